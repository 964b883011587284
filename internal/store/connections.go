package store

import "context"

// ReplaceHostConnections swaps all connections sourced from one host for the
// given set. Each report carries the complete current picture, so stale
// flows drop out on the next replace.
func (s *Store) ReplaceHostConnections(ctx context.Context, hostID string, conns []Connection) error {
	db := s.db.WithContext(ctx)
	if err := db.Delete(&Connection{}, "source_host_id = ?", hostID).Error; err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}
	return db.CreateInBatches(conns, 500).Error
}

// ListConnections returns every stored connection.
func (s *Store) ListConnections(ctx context.Context) ([]Connection, error) {
	var conns []Connection
	err := s.db.WithContext(ctx).Find(&conns).Error
	return conns, err
}

// ListConnectionsBySourceHosts returns connections sourced from any of the
// given hosts.
func (s *Store) ListConnectionsBySourceHosts(ctx context.Context, hostIDs []string) ([]Connection, error) {
	if len(hostIDs) == 0 {
		return nil, nil
	}
	var conns []Connection
	err := s.db.WithContext(ctx).Where("source_host_id IN ?", hostIDs).Find(&conns).Error
	return conns, err
}

// CountConnections returns the total connection count.
func (s *Store) CountConnections(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Connection{}).Count(&n).Error
	return n, err
}
