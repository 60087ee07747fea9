package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"ransomhub/pkg/apperr"
)

var signups = promauto.NewCounter(prometheus.CounterOpts{
	Name: "account_signups_total",
	Help: "Number of accounts created",
})

var otpResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "account_otp_verifications_total",
	Help: "Verification code checks by purpose and outcome",
}, []string{"purpose", "outcome"})

var blockActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "account_block_actions_total",
	Help: "Block and unblock attempts by outcome",
}, []string{"action", "outcome"})

var auditFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "account_audit_write_failures_total",
	Help: "Number of activity log entries that could not be written",
})

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if apperr.KindOf(err) == apperr.KindRateLimited {
		return "limited"
	}
	return "fail"
}
