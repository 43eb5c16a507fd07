package walletsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	ProviderApple  = "AppleWallet"
	ProviderGoogle = "GoogleWallet"
)

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// rateTick spaces outbound pushes so a burst of checkouts does not hammer
// the provider APIs.
var rateTick = time.Tick(50 * time.Millisecond)

type provider struct {
	Name    string
	BaseUrl string
	ApiKey  string
}

// configuredProviders reads provider endpoints from the environment. A
// provider with no URL configured is skipped, not failed.
func configuredProviders() []provider {
	var providers []provider
	if url := os.Getenv("APPLE_WALLET_SYNC_URL"); url != "" {
		providers = append(providers, provider{
			Name:    ProviderApple,
			BaseUrl: url,
			ApiKey:  os.Getenv("APPLE_WALLET_API_KEY"),
		})
	}
	if url := os.Getenv("GOOGLE_WALLET_SYNC_URL"); url != "" {
		providers = append(providers, provider{
			Name:    ProviderGoogle,
			BaseUrl: url,
			ApiKey:  os.Getenv("GOOGLE_WALLET_API_KEY"),
		})
	}
	return providers
}

func push(ctx context.Context, target provider, pass HeldPass, snapshot ProgressSnapshot) PushResult {
	<-rateTick

	start := time.Now()
	result := PushResult{Provider: target.Name, SerialNumber: pass.SerialNumber}

	body, err := json.Marshal(snapshot)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/passes/%s", target.BaseUrl, pass.SerialNumber),
		bytes.NewReader(body))
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	if target.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+target.ApiKey)
	}

	resp, err := httpClient.Do(req)
	result.Duration = time.Since(start)
	result.DurationMs = result.Duration.Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Sprintf("provider returned %d", resp.StatusCode)
		return result
	}

	// Providers acknowledge with the object id they filed the pass under.
	var ack struct {
		ProviderObjectId string `json:"provider_object_id"`
	}
	if err := json.Unmarshal(respBody, &ack); err == nil {
		result.ProviderObjectId = ack.ProviderObjectId
	}
	result.Success = true
	return result
}
