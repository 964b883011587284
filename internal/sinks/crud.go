package sinks

import (
	"context"

	"github.com/google/uuid"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5
)

// SinkPatch is a partial sink update; nil fields are left unchanged.
type SinkPatch struct {
	Name             *string         `json:"name"`
	Type             *store.SinkType `json:"type"`
	Enabled          *bool           `json:"enabled"`
	URL              *string         `json:"url"`
	Port             *int            `json:"port"`
	AuthType         *string         `json:"auth_type"`
	Username         *string         `json:"username"`
	Password         *string         `json:"password"`
	APIKey           *string         `json:"api_key"`
	Token            *string         `json:"token"`
	Config           map[string]any  `json:"config"`
	FilterHosts      []string        `json:"filter_hosts"`
	FilterContainers []string        `json:"filter_containers"`
	FilterStreams    []string        `json:"filter_streams"`
	TLSEnabled       *bool           `json:"tls_enabled"`
	TLSVerify        *bool           `json:"tls_verify"`
	BatchSize        *int            `json:"batch_size"`
	FlushInterval    *int            `json:"flush_interval"`
}

// List returns every configured sink, optionally only enabled ones.
func (f *Forwarder) List(ctx context.Context, enabledOnly bool) ([]store.LogSink, error) {
	return f.store.ListLogSinks(ctx, enabledOnly)
}

// Get returns one sink, or nil, nil when unknown.
func (f *Forwarder) Get(ctx context.Context, id string) (*store.LogSink, error) {
	return f.store.GetLogSink(ctx, id)
}

// Create persists a new sink, filling in the ID and defaults.
func (f *Forwarder) Create(ctx context.Context, sink *store.LogSink) (*store.LogSink, error) {
	if sink.ID == "" {
		sink.ID = uuid.New().String()
	}
	if sink.AuthType == "" {
		sink.AuthType = "none"
	}
	if sink.Config == nil {
		sink.Config = map[string]any{}
	}
	if sink.FilterHosts == nil {
		sink.FilterHosts = []string{}
	}
	if sink.FilterContainers == nil {
		sink.FilterContainers = []string{}
	}
	if sink.FilterStreams == nil {
		sink.FilterStreams = []string{}
	}
	if sink.BatchSize <= 0 {
		sink.BatchSize = defaultBatchSize
	}
	if sink.FlushInterval <= 0 {
		sink.FlushInterval = defaultFlushInterval
	}
	if err := f.store.CreateLogSink(ctx, sink); err != nil {
		return nil, err
	}
	f.log.Info("sink created", "name", sink.Name, "type", string(sink.Type))
	return sink, nil
}

// Update applies a patch to one sink. Returns nil, nil when unknown.
func (f *Forwarder) Update(ctx context.Context, id string, patch SinkPatch) (*store.LogSink, error) {
	sink, err := f.store.GetLogSink(ctx, id)
	if err != nil || sink == nil {
		return nil, err
	}

	if patch.Name != nil {
		sink.Name = *patch.Name
	}
	if patch.Type != nil {
		sink.Type = *patch.Type
	}
	if patch.Enabled != nil {
		sink.Enabled = *patch.Enabled
	}
	if patch.URL != nil {
		sink.URL = *patch.URL
	}
	if patch.Port != nil {
		sink.Port = *patch.Port
	}
	if patch.AuthType != nil {
		sink.AuthType = *patch.AuthType
	}
	if patch.Username != nil {
		sink.Username = *patch.Username
	}
	if patch.Password != nil {
		sink.Password = *patch.Password
	}
	if patch.APIKey != nil {
		sink.APIKey = *patch.APIKey
	}
	if patch.Token != nil {
		sink.Token = *patch.Token
	}
	if patch.Config != nil {
		sink.Config = patch.Config
	}
	if patch.FilterHosts != nil {
		sink.FilterHosts = patch.FilterHosts
	}
	if patch.FilterContainers != nil {
		sink.FilterContainers = patch.FilterContainers
	}
	if patch.FilterStreams != nil {
		sink.FilterStreams = patch.FilterStreams
	}
	if patch.TLSEnabled != nil {
		sink.TLSEnabled = *patch.TLSEnabled
	}
	if patch.TLSVerify != nil {
		sink.TLSVerify = *patch.TLSVerify
	}
	if patch.BatchSize != nil {
		sink.BatchSize = *patch.BatchSize
	}
	if patch.FlushInterval != nil {
		sink.FlushInterval = *patch.FlushInterval
	}

	if err := f.store.SaveLogSink(ctx, sink); err != nil {
		return nil, err
	}
	f.log.Info("sink updated", "name", sink.Name)
	return sink, nil
}

// Delete removes a sink. Returns false when unknown.
func (f *Forwarder) Delete(ctx context.Context, id string) (bool, error) {
	sink, err := f.store.GetLogSink(ctx, id)
	if err != nil || sink == nil {
		return false, err
	}
	if err := f.store.DeleteLogSink(ctx, id); err != nil {
		return false, err
	}
	f.log.Info("sink deleted", "name", sink.Name)
	return true, nil
}

// Toggle flips a sink's enabled flag. Returns nil, nil when unknown.
func (f *Forwarder) Toggle(ctx context.Context, id string) (*store.LogSink, error) {
	sink, err := f.store.GetLogSink(ctx, id)
	if err != nil || sink == nil {
		return nil, err
	}
	sink.Enabled = !sink.Enabled
	if err := f.store.SaveLogSink(ctx, sink); err != nil {
		return nil, err
	}
	f.log.Info("sink toggled", "name", sink.Name, "enabled", sink.Enabled)
	return sink, nil
}

// ResetStats zeroes a sink's delivery counters. Returns nil, nil when unknown.
func (f *Forwarder) ResetStats(ctx context.Context, id string) (*store.LogSink, error) {
	sink, err := f.store.GetLogSink(ctx, id)
	if err != nil || sink == nil {
		return nil, err
	}
	sink.LogsSent = 0
	sink.ErrorsCount = 0
	sink.LastSuccess = nil
	sink.LastError = nil
	sink.LastErrorMessage = ""
	if err := f.store.SaveLogSink(ctx, sink); err != nil {
		return nil, err
	}
	return sink, nil
}
