package rpcerr

import (
	"time"
	"unicode/utf8"
)

// Classification шаг нормализатора, на котором была распознана ошибка.
type Classification string

const (
	ClassTyped        Classification = "typed"
	ClassCustom       Classification = "custom"
	ClassReasonToken  Classification = "reason-token"
	ClassConstraint   Classification = "constraint"
	ClassDriver       Classification = "driver"
	ClassUnclassified Classification = "unclassified"
)

// Diagnostics служебные сведения об ошибке. Наружу не отдаются, только в структурные логи.
type Diagnostics struct {
	Classification Classification
	Operation      string
	Routine        string
	DriverCode     string
	Severity       string
	Detail         string
	Elapsed        time.Duration
	Cause          string
}

// Redacted возвращает поля для логов. Detail и текст причины обрезаются, значения параметров сюда не попадают.
func (d Diagnostics) Redacted() map[string]any {
	fields := map[string]any{
		"classification": string(d.Classification),
		"elapsedMs":      d.Elapsed.Milliseconds(),
	}
	if d.Operation != "" {
		fields["operation"] = d.Operation
	}
	if d.Routine != "" {
		fields["routine"] = d.Routine
	}
	if d.DriverCode != "" {
		fields["driverCode"] = d.DriverCode
	}
	if d.Severity != "" {
		fields["severity"] = d.Severity
	}
	if d.Detail != "" {
		fields["detail"] = truncate(d.Detail, maxDetailLen)
	}
	if d.Cause != "" {
		fields["cause"] = truncate(d.Cause, maxDetailLen)
	}
	return fields
}

const maxDetailLen = 256

// truncate обрезает s до n байт по границе символа.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
