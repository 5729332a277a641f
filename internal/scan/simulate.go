package scan

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"soclite-backend/internal/observation"
)

// Finding is one open port reported by a scan of a single host.
type Finding struct {
	Host     string   `json:"host"`
	Protocol string   `json:"protocol"`
	Port     int      `json:"port"`
	Service  string   `json:"service"`
	Product  string   `json:"product,omitempty"`
	CVEs     []string `json:"cve,omitempty"`
}

var serviceCVEs = map[string][]string{
	"ssh":   {"CVE-2023-38408", "CVE-2018-15473"},
	"http":  {"CVE-2021-41773", "CVE-2022-23943"},
	"https": {"CVE-2022-0778"},
	"mysql": {"CVE-2021-35604"},
	"rdp":   {"CVE-2019-0708"},
}

var criticalPorts = map[int]bool{22: true, 80: true, 443: true, 3306: true, 3389: true}

var simulatedServices = []string{"ssh", "http", "https", "rdp", "unknown"}

// MetricsFromFindings reduces raw findings to the counters the feature
// schema reads.
func MetricsFromFindings(findings []Finding) map[string]float64 {
	services := map[string]bool{}
	highRisk := 0
	critical := 0
	portSum := 0
	for _, f := range findings {
		services[f.Service] = true
		if len(f.CVEs) > 0 {
			highRisk++
		}
		if criticalPorts[f.Port] {
			critical++
		}
		portSum += f.Port
	}
	averagePort := 0.0
	if len(findings) > 0 {
		averagePort = float64(portSum) / float64(len(findings))
	}
	return map[string]float64{
		"open_ports":         float64(len(findings)),
		"unique_services":    float64(len(services)),
		"high_risk_services": float64(highRisk),
		"critical_ports":     float64(critical),
		"average_port":       averagePort,
	}
}

// Simulator produces synthetic scan observations: a stable handful of
// open ports per target with a much larger burst every burstEvery-th
// observation, so baselines settle and then trip the detector.
type Simulator struct {
	faker      *gofakeit.Faker
	targets    []string
	burstEvery int
	count      int
}

func NewSimulator(seed uint64, targetCount, burstEvery int) *Simulator {
	if targetCount < 1 {
		targetCount = 1
	}
	faker := gofakeit.New(seed)
	targets := make([]string, 0, targetCount)
	for i := 0; i < targetCount; i++ {
		targets = append(targets, faker.IPv4Address())
	}
	return &Simulator{faker: faker, targets: targets, burstEvery: burstEvery}
}

func (s *Simulator) Targets() []string {
	out := make([]string, len(s.targets))
	copy(out, s.targets)
	return out
}

func (s *Simulator) Next(now time.Time) observation.ScanObservation {
	s.count++
	target := s.targets[s.count%len(s.targets)]
	burst := s.burstEvery > 0 && s.count%s.burstEvery == 0
	findings := s.simulate(target, burst)
	return observation.ScanObservation{
		Target:    target,
		Timestamp: now.UTC(),
		Metrics:   MetricsFromFindings(findings),
	}
}

func (s *Simulator) simulate(target string, burst bool) []Finding {
	count := s.faker.Number(3, 5)
	if burst {
		count = s.faker.Number(25, 40)
	}
	findings := make([]Finding, 0, count)
	for i := 0; i < count; i++ {
		service := s.faker.RandomString(simulatedServices)
		findings = append(findings, Finding{
			Host:     target,
			Protocol: "tcp",
			Port:     s.faker.Number(20, 1023),
			Service:  service,
			Product:  "simulated",
			CVEs:     serviceCVEs[service],
		})
	}
	return findings
}
