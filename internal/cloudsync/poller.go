package cloudsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/homegate-core/internal/coapserver"
	"github.com/nerrad567/homegate-core/internal/registry"
)

// defaultPollInterval is the AWS shadow poller's tick (spec §5: "The AWS
// shadow poller runs on a dedicated task with a 5 s tick").
const defaultPollInterval = 5 * time.Second

// LocalWriter is the subset of coapserver.HelperClient the poller needs
// to forward a cloud-initiated desired-state delta back into the local
// device state machine as a CoAP PUT.
type LocalWriter interface {
	Do(ctx context.Context, method, path string, query map[string]string, body []byte) (coapserver.Status, []byte, error)
}

// ShadowReader fetches a device's last-known cloud desired state,
// implemented by AWSShadowClient.
type ShadowReader interface {
	GetDesired(ctx context.Context, snap Snapshot) (map[string]any, error)
}

// Poller compares each local device's AWS shadow desired state against
// the last-observed value and forwards deltas as local CoAP PUTs (spec
// §4.6b). It is a no-op while Cloud Sync is working offline.
type Poller struct {
	reg    *registry.Registry
	shadow ShadowReader
	local  LocalWriter
	logger Logger

	lastObserved map[int]string // device local_id -> marshaled last-seen desired
}

// NewPoller builds a Poller. reg supplies the device list; shadow reads
// each device's cloud shadow; local issues the corrective CoAP PUT.
func NewPoller(reg *registry.Registry, shadow ShadowReader, local LocalWriter, logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Poller{
		reg:          reg,
		shadow:       shadow,
		local:        local,
		logger:       logger,
		lastObserved: make(map[int]string),
	}
}

// Run blocks, polling every interval until ctx is cancelled. interval <=
// 0 uses defaultPollInterval.
func (p *Poller) Run(ctx context.Context, interval time.Duration, cs *CloudSync) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cs != nil {
				_, offline := cs.snapshotSinks()
				if offline {
					continue
				}
			}
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, info := range p.reg.List("") {
		dev, err := p.reg.Get(info.LocalID)
		if err != nil {
			continue
		}
		snap := snapshotOf(dev)
		desired, err := p.shadow.GetDesired(ctx, snap)
		if err != nil {
			p.logger.Warn("cloud sync poller: reading shadow failed", "device_id", info.LocalID, "error", err)
			continue
		}
		if len(desired) == 0 {
			continue
		}

		encoded, err := json.Marshal(desired)
		if err != nil {
			continue
		}
		if p.lastObserved[info.LocalID] == string(encoded) {
			continue
		}
		p.lastObserved[info.LocalID] = string(encoded)

		if !differsFromLocal(desired, dev.DesiredState) {
			continue
		}

		path := fmt.Sprintf("/devices/%d/state", info.LocalID)
		status, payload, err := p.local.Do(ctx, "PUT", path, nil, encoded)
		if err != nil {
			p.logger.Warn("cloud sync poller: forwarding desired state failed", "device_id", info.LocalID, "error", err)
			continue
		}
		if status != coapserver.StatusChanged {
			p.logger.Warn("cloud sync poller: local PUT rejected", "device_id", info.LocalID, "status", status, "payload", string(payload))
		}
	}
}

func differsFromLocal(desired map[string]any, local registry.State) bool {
	for propID, v := range desired {
		cur, ok := local.Get(propID)
		if !ok {
			return true
		}
		curJSON, _ := json.Marshal(cur)
		newJSON, _ := json.Marshal(v)
		if string(curJSON) != string(newJSON) {
			return true
		}
	}
	return false
}
