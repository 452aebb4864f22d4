// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	a2a "github.com/go-a2a/a2a-coordinator"
)

// CardResolver represents an Agent Card resolver.
type CardResolver interface {
	// GetAgentCard fetches an agent card from a specified path relative to the baseURL.
	//
	// If relativeCardPath is empty, it defaults to [a2a.AgentCardWellKnownPath].
	GetAgentCard(ctx context.Context, relativeCardPath string) (*a2a.AgentCard, error)
}

type cardResolver struct {
	hc            *http.Client
	baseURL       string
	agentCardPath string
}

var _ CardResolver = (*cardResolver)(nil)

// NewCardResolver returns a [CardResolver] for the agent at baseURL. A nil
// hc uses [http.DefaultClient].
func NewCardResolver(baseURL string, hc *http.Client) CardResolver {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &cardResolver{
		hc:            hc,
		baseURL:       strings.TrimRight(baseURL, "/"),
		agentCardPath: strings.TrimLeft(a2a.AgentCardWellKnownPath, "/"),
	}
}

func (r *cardResolver) GetAgentCard(ctx context.Context, relativeCardPath string) (*a2a.AgentCard, error) {
	if relativeCardPath == "" {
		relativeCardPath = r.agentCardPath
	} else {
		relativeCardPath = strings.TrimLeft(relativeCardPath, "/")
	}

	targetURL := fmt.Sprintf("%s/%s", r.baseURL, relativeCardPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: targetURL}
	}

	var agentCard a2a.AgentCard
	dec := jsontext.NewDecoder(resp.Body)
	if err := json.UnmarshalDecode(dec, &agentCard); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}

	return &agentCard, nil
}
