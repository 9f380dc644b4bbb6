package dispatcher

import (
	"fmt"
	"time"

	"upkeep-dispatcher/internal/domain"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload is the snapshot carried from Probe to Run by the driver.
type Payload struct {
	Targets  []string
	IssuedAt time.Time
}

// EncodePayload serializes a snapshot as a protobuf Struct.
func EncodePayload(p Payload) ([]byte, error) {
	targets := make([]interface{}, len(p.Targets))
	for i, t := range p.Targets {
		targets[i] = t
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"targets":   targets,
		"issued_at": float64(p.IssuedAt.UnixMilli()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses a payload produced by EncodePayload.
func DecodePayload(b []byte) (*Payload, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	targetsVal, ok := s.Fields["targets"]
	if !ok || targetsVal.GetListValue() == nil {
		return nil, fmt.Errorf("%w: missing target list", domain.ErrInvalidPayload)
	}
	values := targetsVal.GetListValue().GetValues()
	p := &Payload{Targets: make([]string, 0, len(values))}
	for i, v := range values {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: target %d is not a string", domain.ErrInvalidPayload, i)
		}
		p.Targets = append(p.Targets, sv.StringValue)
	}
	if issued, ok := s.Fields["issued_at"]; ok {
		p.IssuedAt = time.UnixMilli(int64(issued.GetNumberValue()))
	}
	return p, nil
}
