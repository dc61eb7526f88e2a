package session

// Merge folds the incoming copy of the same logical session into s. It is
// the single conflict rule shared by backup restore (merge strategy) and
// cross-platform synchronization.
//
// The rule is deliberately asymmetric:
//   - History is unioned by message ID; existing entries keep their order,
//     new incoming entries are appended in source order.
//   - Data is overwritten key-by-key by the incoming copy.
//   - Metadata keys present only in the incoming copy are added; existing
//     keys are never overwritten, protecting policy knobs.
//   - LastActivity becomes the maximum of the two.
func (s *Session) Merge(incoming *Session) {
	if incoming == nil {
		return
	}

	seen := make(map[string]struct{}, len(s.History))
	for _, msg := range s.History {
		seen[msg.ID] = struct{}{}
	}
	for _, msg := range incoming.History {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		s.History = append(s.History, msg)
	}

	if len(incoming.Data) > 0 && s.Data == nil {
		s.Data = make(map[string]Value, len(incoming.Data))
	}
	for k, v := range incoming.Data {
		s.Data[k] = v.Clone()
	}

	if len(incoming.Metadata) > 0 && s.Metadata == nil {
		s.Metadata = make(map[string]Value, len(incoming.Metadata))
	}
	for k, v := range incoming.Metadata {
		if _, exists := s.Metadata[k]; !exists {
			s.Metadata[k] = v.Clone()
		}
	}

	if incoming.LastActivity.After(s.LastActivity) {
		s.LastActivity = incoming.LastActivity
	}
}
