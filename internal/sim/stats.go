package sim

// Counter tallies decisions returned during a run.
type Counter struct {
	Scans    int
	Allowed  int
	Denied   int
	ByReason map[string]int
}

func (c *Counter) Add(allowed bool, reason string) {
	c.Scans++
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	if c.ByReason == nil {
		c.ByReason = make(map[string]int)
	}
	c.ByReason[reason]++
}

// DenialRate is the fraction of scans that were refused.
func (c Counter) DenialRate() float64 {
	if c.Scans == 0 {
		return 0
	}
	return float64(c.Denied) / float64(c.Scans)
}
