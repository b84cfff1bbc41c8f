// Copyright 2024-2026 Aiku AI

package modmail

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tortoise_mail_active_sessions",
		Help: "Session slots currently held, by flow",
	}, []string{"flow"})

	pendingModMails = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tortoise_mail_pending_mod_mails",
		Help: "Mod-mail requests waiting for staff acceptance",
	})

	flowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tortoise_mail_flow_outcomes_total",
		Help: "Completed flow runs by flow and terminal outcome",
	}, []string{"flow", "outcome"})

	menusPresented = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tortoise_mail_menus_total",
		Help: "Direct-message menu requests by result",
	}, []string{"result"}) // result=sent|rate_limited|failed
)
