package storage

// DeleteRoll removes a single roll outside any transaction, the way an
// operator cleaning up the rolls table by hand would.
func (s *MemoryStorage) DeleteRoll(rollID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.rolls[rollID]; !ok {
		return false
	}
	delete(s.state.rolls, rollID)
	return true
}
