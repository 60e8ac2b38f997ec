package health

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// cwClient is set by SetCloudWatchClient; nil means export is a no-op
// even when CloudWatchEnabled is true, mirroring logger/cloudwatch.go's
// "disabled until configured" behavior.
var cwClient *cloudwatch.Client

// SetCloudWatchClient wires a shared CloudWatch client into the health
// package. Call once during startup, after logger.InitCloudWatch (or
// independently, since this package doesn't reuse logger's client —
// they're separate namespaces: process metrics vs per-channel ingest
// metrics).
func SetCloudWatchClient(c *cloudwatch.Client) {
	cwClient = c
}

const cwNamespace = "feedline-health"

func (m *Monitor) publishSnapshot(s Snapshot) {
	if cwClient == nil {
		return
	}
	dims := []cwtypes.Dimension{
		{Name: aws.String("preset"), Value: aws.String(m.PresetLabel)},
		{Name: aws.String("channel"), Value: aws.String(string(s.Channel))},
	}
	data := []cwtypes.MetricDatum{
		metric("Written", float64(s.Written), cwtypes.StandardUnitCount, dims),
		metric("Flushed", float64(s.Flushed), cwtypes.StandardUnitCount, dims),
		metric("Dropped", float64(s.Dropped), cwtypes.StandardUnitCount, dims),
		metric("Missing", float64(s.Missing), cwtypes.StandardUnitCount, dims),
		metric("Backlog", s.Backlog, cwtypes.StandardUnitCount, dims),
		metric("BacklogWS", float64(s.BacklogWS), cwtypes.StandardUnitCount, dims),
		metric("LagAvgMs", s.LagAvgMs, cwtypes.StandardUnitMilliseconds, dims),
		metric("LagMaxMs", float64(s.LagMaxMs), cwtypes.StandardUnitMilliseconds, dims),
		metric("WSOutgoing", float64(s.WSOutgoing), cwtypes.StandardUnitCount, dims),
		metric("WSAttempts", float64(s.WSAttempts), cwtypes.StandardUnitCount, dims),
	}
	_, _ = cwClient.PutMetricData(context.Background(), &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cwNamespace),
		MetricData: data,
	})
}

func metric(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Unit:       unit,
		Value:      aws.Float64(value),
		Dimensions: dims,
	}
}
