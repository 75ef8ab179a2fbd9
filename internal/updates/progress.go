package updates

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// PullStatus is a service's position in the pull/recreate lifecycle.
type PullStatus string

const (
	StatusWaiting     PullStatus = "waiting"
	StatusPulling     PullStatus = "pulling"
	StatusDownloading PullStatus = "downloading"
	StatusExtracting  PullStatus = "extracting"
	StatusPulled      PullStatus = "pulled"
	StatusRecreating  PullStatus = "recreating"
	StatusCompleted   PullStatus = "completed"
	StatusError       PullStatus = "error"
)

// statusRank orders the lifecycle so transitions stay monotonic: a line can
// never move a service backwards (except into error).
var statusRank = map[PullStatus]int{
	StatusWaiting:     0,
	StatusPulling:     1,
	StatusDownloading: 2,
	StatusExtracting:  3,
	StatusPulled:      4,
	StatusRecreating:  5,
	StatusCompleted:   6,
}

// ServiceProgress is one service's normalized progress. ProgressPercent is
// monotonic per phase except on error.
type ServiceProgress struct {
	ServiceName     string     `json:"serviceName"`
	Status          PullStatus `json:"status"`
	ProgressPercent int        `json:"progressPercent"`
	Message         string     `json:"message,omitempty"`
}

// Compose pull output shapes. Service lines name the service ("web Pulled",
// "db Pulling"); layer lines carry only a percentage and apply to whatever
// is currently in flight.
var (
	servicePulledRe  = regexp.MustCompile(`(?i)(?:^|\s)(\S+)\s+(?:Pulled|Already exists)\b`)
	servicePullingRe = regexp.MustCompile(`(?i)(?:^|\s)(\S+)\s+(Pulling|Waiting)\b`)
	downloadingRe    = regexp.MustCompile(`(?i)Downloading\s+\[?[=> ]*\]?\s*(\d+(?:\.\d+)?)%`)
	extractingRe     = regexp.MustCompile(`(?i)Extracting\s+\[?[=> ]*\]?\s*(\d+(?:\.\d+)?)%`)
	errorLineRe      = regexp.MustCompile(`(?i)\b(error|failed|failure|denied|unauthorized|manifest unknown|no such|timeout)\b`)
)

// ProgressParser turns streamed compose output into per-service progress.
// It is not safe for concurrent use; the single stream-reading loop owns it.
type ProgressParser struct {
	services map[string]*ServiceProgress
	order    []string
}

func NewProgressParser(serviceNames []string) *ProgressParser {
	p := &ProgressParser{
		services: make(map[string]*ServiceProgress, len(serviceNames)),
		order:    append([]string(nil), serviceNames...),
	}
	sort.Strings(p.order)
	for _, name := range p.order {
		p.services[name] = &ServiceProgress{ServiceName: name, Status: StatusWaiting}
	}
	return p
}

// ParseLine classifies one output line. Rules are tested in order and a
// line matches at most one of them. The return value reports whether any
// service changed, so the caller can force an immediate broadcast.
func (p *ProgressParser) ParseLine(line string) bool {
	if m := servicePulledRe.FindStringSubmatch(line); m != nil {
		if svc, ok := p.services[m[1]]; ok {
			return p.advance(svc, StatusPulled, 100, line)
		}
		return false
	}

	if m := servicePullingRe.FindStringSubmatch(line); m != nil {
		if svc, ok := p.services[m[1]]; ok {
			target := StatusPulling
			if strings.EqualFold(m[2], "waiting") {
				target = StatusWaiting
			}
			// Only ever upgrade; a late "Waiting" must not downgrade a
			// service that already started pulling.
			if statusRank[target] > statusRank[svc.Status] {
				return p.advance(svc, target, svc.ProgressPercent, line)
			}
		}
		return false
	}

	if m := downloadingRe.FindStringSubmatch(line); m != nil {
		// Downloads are ~70% of the work for a layer; scale into 0–99.
		pct := clampPercent(parsePercent(m[1])*0.7, 99)
		changed := false
		for _, svc := range p.services {
			if svc.Status == StatusPulling || svc.Status == StatusDownloading {
				if p.advance(svc, StatusDownloading, pct, line) {
					changed = true
				}
			}
		}
		return changed
	}

	if m := extractingRe.FindStringSubmatch(line); m != nil {
		// Extraction is the remaining 30%: scale into 70–99.
		pct := clampPercent(70+parsePercent(m[1])*0.29, 99)
		changed := false
		for _, svc := range p.services {
			if svc.Status == StatusDownloading || svc.Status == StatusExtracting {
				if p.advance(svc, StatusExtracting, pct, line) {
					changed = true
				}
			}
		}
		return changed
	}

	if errorLineRe.MatchString(line) {
		changed := false
		for _, svc := range p.services {
			if statusRank[svc.Status] < statusRank[StatusPulled] && svc.Status != StatusError {
				svc.Status = StatusError
				svc.Message = line
				changed = true
			}
		}
		return changed
	}

	return false
}

func (p *ProgressParser) advance(svc *ServiceProgress, status PullStatus, pct int, msg string) bool {
	if svc.Status == StatusError {
		return false
	}
	changed := svc.Status != status || svc.ProgressPercent != pct
	svc.Status = status
	if pct > svc.ProgressPercent || status == StatusPulled || status == StatusCompleted {
		svc.ProgressPercent = pct
	}
	svc.Message = msg
	return changed
}

// MarkAll forces every non-errored service into the given state, used at
// phase boundaries (all pulled, reset to recreating, all completed).
func (p *ProgressParser) MarkAll(status PullStatus, pct int) {
	for _, svc := range p.services {
		if svc.Status == StatusError {
			continue
		}
		svc.Status = status
		svc.ProgressPercent = pct
		svc.Message = ""
	}
}

// MarkPendingErrored flags every service that has not finished pulling,
// carrying the failure text as its message.
func (p *ProgressParser) MarkPendingErrored(message string) {
	for _, svc := range p.services {
		if statusRank[svc.Status] < statusRank[StatusPulled] && svc.Status != StatusError {
			svc.Status = StatusError
			svc.Message = message
		}
	}
}

// MarkAllErrored flags every service regardless of state (recreate failure
// affects even services that pulled cleanly).
func (p *ProgressParser) MarkAllErrored(message string) {
	for _, svc := range p.services {
		svc.Status = StatusError
		svc.Message = message
	}
}

// Overall is the arithmetic mean of all services' percentages.
func (p *ProgressParser) Overall() int {
	if len(p.order) == 0 {
		return 0
	}
	total := lo.SumBy(p.order, func(name string) int { return p.services[name].ProgressPercent })
	return total / len(p.order)
}

// Snapshot returns the per-service progress in stable (name) order.
func (p *ProgressParser) Snapshot() []ServiceProgress {
	return lo.Map(p.order, func(name string, _ int) ServiceProgress { return *p.services[name] })
}

func parsePercent(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampPercent(v float64, max int) int {
	pct := int(v)
	if pct > max {
		return max
	}
	if pct < 0 {
		return 0
	}
	return pct
}
