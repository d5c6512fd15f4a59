package evaluator

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/sensor"
)

const (
	leakSystemPrompt = `You are a leak detection expert for water distribution networks. Analyze sensor data objectively and flag every pipe that meets the leak indicator thresholds. Respond with a single JSON object and nothing else.`

	safetySystemPrompt = `You are a safety monitoring expert for water distribution networks with zero tolerance for safety violations. Respond with a single JSON object and nothing else.`

	energySystemPrompt = `You are an energy optimization expert for water distribution networks. Respond with a single JSON object and nothing else.`

	nrwSystemPrompt = `You are a water system analytics expert. Respond with a single JSON object and nothing else.`

	uptimeSystemPrompt = `You are a system reliability expert for water distribution networks. Respond with a single JSON object and nothing else.`

	demandSystemPrompt = `You are a water demand forecasting expert. Respond with a single JSON object and nothing else.`
)

func buildLeakPrompt(pipes []sensor.AssetReadings) string {
	var b strings.Builder
	b.WriteString(`Analyze the latest sensor readings per pipe and predict leak likelihood using sensor fusion.

Baseline ranges:
- Pressure: normal 60-70 psi; leak indicator below 55 psi (sudden drop)
- Acoustic: normal 2-3 dB; leak indicator above 5 dB (vibration or noise spike)
- Flow: normal 80-100 L/s; leak indicator above 110 L/s (unexpected increase)

A pressure drop together with an acoustic spike is a high-confidence leak.
Any two indicators together is a moderate-confidence leak.
A single indicator alone is low confidence and should be monitored.

Sensor data by pipe:
`)
	for _, p := range pipes {
		fmt.Fprintf(&b, "\n--- Pipe %s ---\n", p.AssetID)
		for _, r := range p.Readings {
			fmt.Fprintf(&b, "  - %s: %g %s (observed %s)\n", r.Type, r.Value, r.Unit, r.ObservedAt.UTC().Format(time.RFC3339))
		}
	}
	b.WriteString(`
For each pipe with leak risk provide a confidence between 0.0 and 1.0, an
urgency of immediate, soon or monitor, your reasoning, the state of each
sensor indicator, and a recommendation. Only recommend valve isolation when
confidence is above 0.84.

Respond with exactly this JSON shape:
{
  "leaks": [
    {
      "edge_id": "pipe id from the data above",
      "confidence": 0.92,
      "urgency": "immediate|soon|monitor",
      "reasoning": "why this pipe likely has a leak",
      "sensor_indicators": {
        "acoustic": "high|normal|low and explanation",
        "pressure": "high|normal|low and explanation",
        "flow": "high|normal|low and explanation"
      },
      "recommendation": {
        "action": "isolate|monitor|inspect",
        "valves_to_close": ["V1"],
        "dispatch_crew": true,
        "estimated_location": "description"
      }
    }
  ]
}

If no leaks are detected return {"leaks": []}.`)
	return b.String()
}

// SafetyThresholds are the pressure limits the safety evaluator enforces.
type SafetyThresholds struct {
	CriticalLowPSI float64
	MinSafePSI     float64
	MaxSafePSI     float64
}

func (t SafetyThresholds) flag(psi float64) string {
	switch {
	case psi < t.CriticalLowPSI:
		return " [CRITICAL]"
	case psi < t.MinSafePSI:
		return " [LOW]"
	case psi > t.MaxSafePSI:
		return " [HIGH]"
	default:
		return ""
	}
}

func buildSafetyPrompt(th SafetyThresholds, byType map[string][]sensor.Reading, equipment []sensor.Equipment) string {
	var b strings.Builder
	b.WriteString("Analyze the current sensor readings and identify every safety concern, anomaly or violation.\n\nSafety thresholds:\n")
	fmt.Fprintf(&b, "  - Critical low pressure: below %g psi (emergency)\n", th.CriticalLowPSI)
	fmt.Fprintf(&b, "  - Minimum safe pressure: %g psi\n", th.MinSafePSI)
	fmt.Fprintf(&b, "  - Maximum safe pressure: %g psi\n", th.MaxSafePSI)

	b.WriteString("\nPressure sensors:\n")
	for _, r := range byType[sensor.TypePressure] {
		fmt.Fprintf(&b, "  - %s %s: %g %s%s\n", r.AssetKind, r.AssetID, r.Value, r.Unit, th.flag(r.Value))
	}
	b.WriteString("\nFlow sensors:\n")
	for _, r := range byType[sensor.TypeFlow] {
		fmt.Fprintf(&b, "  - %s %s: %g %s\n", r.AssetKind, r.AssetID, r.Value, r.Unit)
	}
	b.WriteString("\nAcoustic sensors:\n")
	for _, r := range byType[sensor.TypeAcoustic] {
		fmt.Fprintf(&b, "  - %s %s: %g %s\n", r.AssetKind, r.AssetID, r.Value, r.Unit)
	}
	b.WriteString("\nValves and pumps:\n")
	for _, e := range equipment {
		fmt.Fprintf(&b, "  - %s (%s): %s\n", e.Name, e.Kind, e.Status)
	}

	fmt.Fprintf(&b, `
Check for:
1. Pressure violations: below %g psi is CRITICAL, below %g psi is a warning, above %g psi risks pipe damage.
2. System anomalies: unusual flow, acoustic anomalies, pump or valve malfunctions.
3. Cascading risks: several sensors trending badly, patterns that could lead to failure, contamination risk.

For each concern give a severity (CRITICAL, HIGH, MEDIUM, LOW), the affected asset ids,
a description, reasoning, immediate actions, estimated time to failure and a confidence.

Respond with exactly this JSON shape:
{
  "safety_status": "SAFE|WARNING|CRITICAL",
  "issues": [
    {
      "severity": "CRITICAL|HIGH|MEDIUM|LOW",
      "category": "pressure|flow|acoustic|equipment",
      "affected_assets": ["asset-id"],
      "description": "clear description of the issue",
      "reasoning": "why this is a safety concern",
      "immediate_actions": ["action"],
      "estimated_time_to_failure": "immediate|hours|days|N/A",
      "confidence": 0.95
    }
  ],
  "overall_assessment": "summary of system safety state",
  "monitoring_recommendations": ["recommendation"]
}`, th.CriticalLowPSI, th.MinSafePSI, th.MaxSafePSI)
	return b.String()
}

func buildEnergyPrompt(avgPressure, minPressure float64, pumps []sensor.Equipment, prices []sensor.Price) string {
	var b strings.Builder
	b.WriteString("Create a pump schedule for the price window below that minimizes energy cost while keeping system pressure above the minimum.\n\nCurrent system state:\n")
	fmt.Fprintf(&b, "  - Current average pressure: %.1f psi\n", avgPressure)
	fmt.Fprintf(&b, "  - Minimum pressure required: %g psi\n", minPressure)
	fmt.Fprintf(&b, "  - Number of pumps: %d\n", len(pumps))

	b.WriteString("\nAvailable pumps:\n")
	for _, p := range pumps {
		fmt.Fprintf(&b, "  - %s: status=%s, setpoint=%g\n", p.Name, p.Status, p.Setpoint)
	}

	b.WriteString("\nEnergy prices:\n")
	for _, p := range prices {
		period := "PEAK"
		if p.OffPeak {
			period = "OFF-PEAK"
		}
		fmt.Fprintf(&b, "  - Hour %02d (%s): $%.3f/kWh (%s)\n", p.At.UTC().Hour(), p.At.UTC().Format(time.RFC3339), p.PricePerKWh, period)
	}

	b.WriteString(`
Constraints:
1. Keep pressure above the minimum at all times.
2. Prefer running pumps during off-peak hours.
3. Keep water continuously available.
4. Avoid excessive pump cycling.
5. Balance savings against reliability.

For each pump give an hourly schedule, setpoint adjustments, reasoning, estimated
daily savings versus running continuously, and a confidence.

Respond with exactly this JSON shape:
{
  "optimizations": [
    {
      "pump_name": "PUMP1",
      "schedule": [{"hour": 0, "status": "on|off", "setpoint": 50, "rationale": "..."}],
      "estimated_daily_savings_usd": 12.50,
      "confidence": 0.9,
      "reasoning": "detailed explanation"
    }
  ],
  "overall_strategy": "high-level strategy",
  "risk_assessment": "potential risks",
  "pressure_guarantee": "how minimum pressure is maintained",
  "total_estimated_savings": 25.00
}`)
	return b.String()
}

func writeFlows(b *strings.Builder, flows []sensor.Reading) {
	if len(flows) == 0 {
		b.WriteString("  (no flow readings)\n")
		return
	}
	for _, r := range flows {
		fmt.Fprintf(b, "  - %s %s: %g %s (observed %s)\n", r.AssetKind, r.AssetID, r.Value, r.Unit, r.ObservedAt.UTC().Format(time.RFC3339))
	}
}

func writeIncidents(b *strings.Builder, incidents []decision.Incident, limit int) {
	if len(incidents) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	for i, inc := range incidents {
		if i == limit {
			fmt.Fprintf(b, "  ...and %d more\n", len(incidents)-limit)
			break
		}
		fmt.Fprintf(b, "  - %s %s on %s [%s, %s]: %s\n",
			inc.CreatedAt.UTC().Format(time.RFC3339), inc.Kind, inc.AssetRef, inc.Severity, inc.State, inc.Title)
	}
}

func buildNRWPrompt(flows []sensor.Reading, leaks []decision.Incident) string {
	var b strings.Builder
	b.WriteString("Estimate Non-Revenue Water (water lost to leaks, theft and metering errors) for the network.\n\nLatest flow readings:\n")
	writeFlows(&b, flows)
	b.WriteString("\nLeak incidents in the last 30 days:\n")
	writeIncidents(&b, leaks, recentLeakLimit)
	b.WriteString(`
Estimate the NRW percentage, the trend against the previous period and the
main contributing factors.

Respond with exactly this JSON shape:
{
  "nrw_percentage": 12.4,
  "trend_percentage": -2.1,
  "trend_direction": "increasing|decreasing|stable",
  "primary_factors": ["factor"],
  "confidence": 0.85,
  "reasoning": "detailed explanation"
}`)
	return b.String()
}

func buildUptimePrompt(incidents []decision.Incident, assets int) string {
	var critical []decision.Incident
	for _, inc := range incidents {
		if inc.Severity == decision.SeverityCritical || inc.Severity == decision.SeverityHigh {
			critical = append(critical, inc)
		}
	}

	var b strings.Builder
	b.WriteString("Estimate network uptime over the last 30 days.\n\n")
	fmt.Fprintf(&b, "Total incidents (last 30 days): %d\n", len(incidents))
	fmt.Fprintf(&b, "Critical or high incidents: %d\n", len(critical))
	fmt.Fprintf(&b, "Monitored assets: %d\n", assets)
	b.WriteString("\nRecent critical or high incidents:\n")
	writeIncidents(&b, critical, recentCriticalLimit)
	b.WriteString(`
Estimate the uptime percentage, available hours out of 720, the number of
downtime incidents and the mean time between failures.

Respond with exactly this JSON shape:
{
  "uptime_percentage": 99.7,
  "availability_hours": 718.5,
  "total_hours": 720,
  "downtime_incidents": 2,
  "average_mtbf_hours": 360,
  "confidence": 0.9,
  "reasoning": "detailed explanation"
}`)
	return b.String()
}

func buildDemandPrompt(flows []sensor.Reading) string {
	var b strings.Builder
	b.WriteString("Forecast water demand for each of the next 24 hours.\n\nLatest flow readings:\n")
	writeFlows(&b, flows)
	b.WriteString(`
Consider daily residential and commercial patterns (low overnight, morning
and evening peaks), the current readings, season and day of week.

Respond with exactly this JSON shape, one entry per hour 0-23:
{
  "forecast": [{"hour": 0, "demand": 45.2, "confidence": 0.88}],
  "peak_hour": 18,
  "peak_demand": 67.5,
  "reasoning": "explanation of the forecast"
}`)
	return b.String()
}
