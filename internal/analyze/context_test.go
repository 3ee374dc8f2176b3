package analyze

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
)

func TestClassifyLocators(t *testing.T) {
	tests := []struct {
		name      string
		logGroup  string
		logStream string
		want      LogContext
	}{
		{
			name:      "ecs task",
			logGroup:  "/ecs/web-service",
			logStream: "web/abcdef0123456789abcdef0123456789",
			want: LogContext{
				InfraType:   "ecs",
				ClusterName: "web-service",
				TaskID:      "abcdef0123456789abcdef0123456789",
				ResourceID:  "abcdef0123456789abcdef0123456789",
			},
		},
		{
			name:      "kubernetes pod",
			logGroup:  "/aws/containerinsights/prod/application",
			logStream: "kube/checkout-7d9f8b6c5-x2x4z",
			want: LogContext{
				InfraType:  "kubernetes",
				PodName:    "checkout-7d9f8b6c5-x2x4z",
				ResourceID: "checkout-7d9f8b6c5-x2x4z",
			},
		},
		{
			name:     "lambda function",
			logGroup: "/aws/lambda/checkout-handler",
			want: LogContext{
				InfraType:  "lambda",
				ResourceID: "checkout-handler",
			},
		},
		{
			name:      "ec2 instance",
			logGroup:  "application-logs",
			logStream: "i-0abc123def4567890",
			want: LogContext{
				InfraType:  "ec2",
				ResourceID: "i-0abc123def4567890",
			},
		},
		{
			name: "nothing recognizable",
			want: LogContext{InfraType: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyLocators(tt.logGroup, tt.logStream)
			tt.want.LogGroup = tt.logGroup
			tt.want.LogStream = tt.logStream
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorGatherer(t *testing.T) {
	g := NewLocatorGatherer(zap.NewNop())

	t.Run("renders prompt context", func(t *testing.T) {
		blob, text := g.Gather(context.Background(), &model.Alert{
			LogGroup:  "/ecs/web-service",
			LogStream: "web/abcdef0123456789abcdef0123456789",
		})

		var lc LogContext
		require.NoError(t, json.Unmarshal(blob, &lc))
		assert.Equal(t, "ecs", lc.InfraType)

		assert.Contains(t, text, "## Infrastructure Context")
		assert.Contains(t, text, "* Type: ecs")
		assert.Contains(t, text, "* Cluster: web-service")
	})

	t.Run("no locators yields no prompt text", func(t *testing.T) {
		blob, text := g.Gather(context.Background(), &model.Alert{})
		assert.NotNil(t, blob)
		assert.Empty(t, text)
	})
}
