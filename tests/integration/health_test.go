package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthCheck 假设 indexer-server 已经在运行 (例如通过 Docker Compose)
// 运行命令: INDEXER_URL=http://localhost:8080 go test -v ./tests/integration/...
func TestHealthCheck(t *testing.T) {
	// 1. 设置目标 URL
	baseURL := os.Getenv("INDEXER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// 2. 发起请求
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		t.Skip("Skipping integration test: server not running? " + err.Error())
		return
	}
	defer resp.Body.Close()

	// 3. 断言结果
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 0, body.Code)
}
