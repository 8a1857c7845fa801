package domain

import (
	"encoding/json"
	"fmt"
)

// swapEnvelope is the persisted form of a SwapRequest or SwapResponse. The
// (provider, type) tags select the concrete payload struct on decode, so a
// corrupted or unknown tag fails loudly instead of yielding a half-typed
// payload.
type swapEnvelope struct {
	Provider SwapProvider    `json:"provider"`
	Type     SwapType        `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

func MarshalSwapRequest(req SwapRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal swap request payload: %w", err)
	}
	return json.Marshal(swapEnvelope{
		Provider: req.SwapProvider(),
		Type:     req.SwapType(),
		Payload:  payload,
	})
}

func MarshalSwapResponse(resp SwapResponse) ([]byte, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal swap response payload: %w", err)
	}
	return json.Marshal(swapEnvelope{
		Provider: resp.SwapProvider(),
		Type:     resp.SwapType(),
		Payload:  payload,
	})
}

func UnmarshalSwapRequest(data []byte) (SwapRequest, error) {
	var env swapEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal swap request envelope: %w", err)
	}
	if env.Provider != SwapProviderBoltz {
		return nil, fmt.Errorf("unknown swap provider %q", env.Provider)
	}

	switch env.Type {
	case SwapTypeSubmarine:
		var req SubmarineRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("unmarshal submarine request: %w", err)
		}
		return req, nil
	case SwapTypeReverse:
		var req ReverseRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("unmarshal reverse request: %w", err)
		}
		return req, nil
	case SwapTypeChain:
		var req ChainRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("unmarshal chain request: %w", err)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("unknown swap type %q", env.Type)
	}
}

func UnmarshalSwapResponse(data []byte) (SwapResponse, error) {
	var env swapEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal swap response envelope: %w", err)
	}
	if env.Provider != SwapProviderBoltz {
		return nil, fmt.Errorf("unknown swap provider %q", env.Provider)
	}

	switch env.Type {
	case SwapTypeSubmarine:
		var resp SubmarineResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal submarine response: %w", err)
		}
		return resp, nil
	case SwapTypeReverse:
		var resp ReverseResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal reverse response: %w", err)
		}
		return resp, nil
	case SwapTypeChain:
		var resp ChainResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal chain response: %w", err)
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("unknown swap type %q", env.Type)
	}
}
