package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/roadassist/internal/models"
)

// FCMPusher posts JSON to the FCM HTTPv1 endpoint using a server key or
// oauth token. Failures are reported to the caller but never retried;
// push is a best-effort hint on top of the pull path.
type FCMPusher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMPusher(endpoint, key string) *FCMPusher {
	return &FCMPusher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMPusher) Push(token string, ev models.RequestEvent) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"token": token,
			"data":  ev,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm push status %d", resp.StatusCode)
	}
	return nil
}
