package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts failed security events per client IP and reports when
// a rule's threshold is reached inside its window.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter creates an alerter backed by Redis counters. It returns nil
// when addr is empty; a nil alerter observes nothing.
func NewAuditAlerter(addr, password, prefix string) *AuditAlerter {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ransomhub:account:alerts"
	}
	return &AuditAlerter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close releases the Redis connection.
func (a *AuditAlerter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Observe records a security event and returns whether the alert threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.client == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	windowMs := window.Milliseconds()
	slot := a.now().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if outcome == "rate_limited" {
		return 20, time.Minute, true
	}
	if outcome != "fail" {
		return 0, 0, false
	}
	switch event {
	case "account.login", "account.signup":
		return 10, 5 * time.Minute, true
	// Codes are six digits; repeated misses from one address look like guessing.
	case "account.otp.verify", "payment.otp.verify":
		return 5, 10 * time.Minute, true
	case "account.captcha", "account.block", "account.report":
		return 15, 5 * time.Minute, true
	case "account.authorize", "account.admin.authorize":
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
