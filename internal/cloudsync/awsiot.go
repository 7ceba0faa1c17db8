package cloudsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"

	"github.com/nerrad567/homegate-core/internal/apperrors"
)

// shadowDocument is the AWS IoT device shadow payload shape (spec
// §4.6b): {state: {desired: ..., reported: ...}}.
type shadowDocument struct {
	State shadowState `json:"state"`
}

type shadowState struct {
	Desired  map[string]any `json:"desired"`
	Reported map[string]any `json:"reported"`
}

// thingClient is the subset of the iot/iotdataplane SDK clients this
// package uses, narrowed for testability.
type thingClient interface {
	CreateThing(ctx context.Context, params *iot.CreateThingInput, optFns ...func(*iot.Options)) (*iot.CreateThingOutput, error)
}

type shadowClient interface {
	UpdateThingShadow(ctx context.Context, params *iotdataplane.UpdateThingShadowInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.UpdateThingShadowOutput, error)
	GetThingShadow(ctx context.Context, params *iotdataplane.GetThingShadowInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.GetThingShadowOutput, error)
}

// AWSShadowClient is the Sink implementation for the AWS IoT device
// shadow (spec §4.6b), grounded on the pack's aws-sdk-go-v2/config +
// single-service-client pairing (there: bedrockruntime; here:
// iotdataplane/iot).
type AWSShadowClient struct {
	things  thingClient
	shadows shadowClient
	logger  Logger
}

// NewAWSShadowClient builds a client from already-resolved SDK clients
// (construct them via aws-sdk-go-v2/config.LoadDefaultConfig at the call
// site, so this package stays free of credential-resolution concerns).
func NewAWSShadowClient(things *iot.Client, shadows *iotdataplane.Client, logger Logger) *AWSShadowClient {
	if logger == nil {
		logger = noopLogger{}
	}
	return &AWSShadowClient{things: things, shadows: shadows, logger: logger}
}

// Register implements Sink: creates a "thing" named after the device's
// universal_id if assigned, else its local_id (spec recovered from
// original_source/aws_comm.py), then seeds its shadow.
func (a *AWSShadowClient) Register(ctx context.Context, snap Snapshot) (string, error) {
	name := thingName(snap)
	if _, err := a.things.CreateThing(ctx, &iot.CreateThingInput{ThingName: aws.String(name)}); err != nil {
		return "", apperrors.Wrap(apperrors.CloudUnavailable, err, "creating AWS IoT thing")
	}
	if err := a.publishShadow(ctx, name, snap); err != nil {
		return "", err
	}
	return "", nil
}

// Unregister implements Sink. The AWS shadow has no equivalent of a
// registration record to remove beyond the thing itself, and spec.md is
// silent on thing deletion, so this is a deliberate no-op.
func (a *AWSShadowClient) Unregister(context.Context, Snapshot) error {
	return nil
}

// PushStateChange implements Sink: republishes the shadow with the new
// simplified current/desired state (spec §4.6b: "On state change,
// publish the same shape").
func (a *AWSShadowClient) PushStateChange(ctx context.Context, snap Snapshot) error {
	return a.publishShadow(ctx, thingName(snap), snap)
}

// PushHeartbeat implements Sink. Spec §4.6b describes only register and
// state-change publishing for the AWS sink; heartbeats are a
// proprietary-cloud-only concept, so this is a deliberate no-op.
func (a *AWSShadowClient) PushHeartbeat(context.Context, Snapshot) error {
	return nil
}

func (a *AWSShadowClient) publishShadow(ctx context.Context, name string, snap Snapshot) error {
	doc := shadowDocument{State: shadowState{Desired: snap.Desired, Reported: snap.Current}}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding shadow document: %w", err)
	}
	_, err = a.shadows.UpdateThingShadow(ctx, &iotdataplane.UpdateThingShadowInput{
		ThingName: aws.String(name),
		Payload:   payload,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CloudUnavailable, err, "updating AWS IoT shadow")
	}
	return nil
}

// GetDesired fetches the shadow's current desired state, used by the
// poller to detect cloud-initiated changes (spec §4.6b).
func (a *AWSShadowClient) GetDesired(ctx context.Context, snap Snapshot) (map[string]any, error) {
	out, err := a.shadows.GetThingShadow(ctx, &iotdataplane.GetThingShadowInput{ThingName: aws.String(thingName(snap))})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CloudUnavailable, err, "reading AWS IoT shadow")
	}
	var doc shadowDocument
	if err := json.Unmarshal(out.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decoding shadow document: %w", err)
	}
	return doc.State.Desired, nil
}

// thingName derives the AWS thing identity: the device's universal_id
// once assigned, falling back to local_id before first cloud
// registration (recovered from original_source/aws_comm.py, dropped by
// the distillation).
func thingName(snap Snapshot) string {
	if snap.UniversalID != "" {
		return snap.UniversalID
	}
	return fmt.Sprintf("device-%d", snap.LocalID)
}
