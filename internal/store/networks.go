package store

import "context"

// ReplaceHostNetworks swaps a host's network rows for the given set.
func (s *Store) ReplaceHostNetworks(ctx context.Context, hostID string, networks []Network) error {
	db := s.db.WithContext(ctx)
	if err := db.Delete(&Network{}, "host_id = ?", hostID).Error; err != nil {
		return err
	}
	if len(networks) == 0 {
		return nil
	}
	return db.CreateInBatches(networks, 200).Error
}

// ListNetworksByHost returns all networks reported by one host.
func (s *Store) ListNetworksByHost(ctx context.Context, hostID string) ([]Network, error) {
	var networks []Network
	err := s.db.WithContext(ctx).Where("host_id = ?", hostID).Find(&networks).Error
	return networks, err
}

// CountNetworks returns the total network count.
func (s *Store) CountNetworks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Network{}).Count(&n).Error
	return n, err
}
