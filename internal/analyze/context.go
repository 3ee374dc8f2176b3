package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
)

// Gatherer collects infrastructure context for an alert. Gathering is
// best-effort: a failed or empty gather never blocks analysis, so the
// method returns whatever it could find plus a prompt-ready rendering.
type Gatherer interface {
	Gather(ctx context.Context, alert *model.Alert) (blob json.RawMessage, promptText string)
}

// LogContext is what the locator gatherer can infer from log group and
// stream names alone.
type LogContext struct {
	LogGroup    string `json:"log_group,omitempty"`
	LogStream   string `json:"log_stream,omitempty"`
	InfraType   string `json:"infrastructure_type"`
	ResourceID  string `json:"resource_id,omitempty"`
	ClusterName string `json:"cluster_name,omitempty"`
	PodName     string `json:"pod_name,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
}

var (
	ecsTaskPattern  = regexp.MustCompile(`[0-9a-f]{32}`)
	podNamePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*-[a-z0-9]{5,10}-[a-z0-9]{5}$`)
	instancePattern = regexp.MustCompile(`\bi-[0-9a-f]{8,17}\b`)
)

// LocatorGatherer classifies the alert's log locators into an
// infrastructure type and resource identifiers. It needs no external calls,
// so it cannot fail; richer gatherers can replace it behind the same
// interface.
type LocatorGatherer struct {
	logger *zap.Logger
}

// NewLocatorGatherer creates a locator-based gatherer.
func NewLocatorGatherer(logger *zap.Logger) *LocatorGatherer {
	return &LocatorGatherer{logger: logger.Named("context-gatherer")}
}

// Gather implements Gatherer.
func (g *LocatorGatherer) Gather(ctx context.Context, alert *model.Alert) (json.RawMessage, string) {
	lc := classifyLocators(alert.LogGroup, alert.LogStream)

	blob, err := json.Marshal(lc)
	if err != nil {
		g.logger.Warn("Failed to marshal log context", zap.Error(err))
		return nil, ""
	}

	if lc.InfraType == "unknown" && alert.LogGroup == "" {
		return blob, ""
	}

	var b strings.Builder
	b.WriteString("## Infrastructure Context\n")
	fmt.Fprintf(&b, "* Type: %s\n", lc.InfraType)
	if lc.ClusterName != "" {
		fmt.Fprintf(&b, "* Cluster: %s\n", lc.ClusterName)
	}
	if lc.ResourceID != "" {
		fmt.Fprintf(&b, "* Resource: %s\n", lc.ResourceID)
	}
	if lc.PodName != "" {
		fmt.Fprintf(&b, "* Pod: %s\n", lc.PodName)
	}
	if lc.TaskID != "" {
		fmt.Fprintf(&b, "* Task: %s\n", lc.TaskID)
	}
	if alert.LogGroup != "" {
		fmt.Fprintf(&b, "* Log group: %s\n", alert.LogGroup)
	}
	if alert.LogStream != "" {
		fmt.Fprintf(&b, "* Log stream: %s\n", alert.LogStream)
	}
	return blob, b.String()
}

func classifyLocators(logGroup, logStream string) LogContext {
	lc := LogContext{
		LogGroup:  logGroup,
		LogStream: logStream,
		InfraType: "unknown",
	}

	switch {
	case strings.Contains(logGroup, "/ecs/"):
		lc.InfraType = "ecs"
		parts := strings.Split(strings.Trim(logGroup, "/"), "/")
		for i, p := range parts {
			if p == "ecs" && i+1 < len(parts) {
				lc.ClusterName = parts[i+1]
				break
			}
		}
		if task := ecsTaskPattern.FindString(logStream); task != "" {
			lc.TaskID = task
			lc.ResourceID = task
		}
	case strings.Contains(logGroup, "/eks/"), strings.Contains(logGroup, "/containerinsights/"):
		lc.InfraType = "kubernetes"
		if pod := lastPathToken(logStream); podNamePattern.MatchString(pod) {
			lc.PodName = pod
			lc.ResourceID = pod
		}
	case strings.Contains(logGroup, "/lambda/"):
		lc.InfraType = "lambda"
		lc.ResourceID = lastPathToken(logGroup)
	case instancePattern.MatchString(logStream):
		lc.InfraType = "ec2"
		lc.ResourceID = instancePattern.FindString(logStream)
	}

	return lc
}

func lastPathToken(s string) string {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	return parts[len(parts)-1]
}
