package parser

import (
	"regexp"
	"strings"
)

// Router-side management classifiers. These decide whether raw text is an
// instruction about an already-open position rather than a new entry, so the
// router can divert it to the management stream before any signal parser
// runs.

// gbFollowupKeywords mark Gold Brothers follow-up chatter about running
// positions.
var gbFollowupKeywords = []string{
	"GANANCIAS", "PROFITS", "BREAKEVEN", "BREAK EVEN", "PUNTO DE EQUILIBRIO",
	"CIERRA", "CERRAR", "CERRANDO", "ASEGURANDO", "RISK OFF", "QUITANDO EL RIESGO",
	"CORRIENDO", "PIPS DESDE", "RECOGER", "SCALPERS", "MANTENER", "CAPAS",
}

var gbFollowupEntryRe = regexp.MustCompile(`@\s*\d+`)

// LooksLikeGBFollowup reports whether text is a Gold Brothers management
// message. A follow-up keyword alone is not enough: formal signals carry at
// least an "@" entry plus an SL, so text with both stays a signal candidate.
func LooksLikeGBFollowup(text string) bool {
	up := strings.ToUpper(text)
	keyword := false
	for _, k := range gbFollowupKeywords {
		if strings.Contains(up, k) {
			keyword = true
			break
		}
	}
	if !keyword {
		return false
	}
	hasEntry := gbFollowupEntryRe.MatchString(text) || strings.Contains(text, "@")
	hasSL := strings.Contains(up, "SL") || strings.Contains(up, "STOP")
	return !(hasEntry && hasSL)
}

// hannahMgmtKeywords are Hannah's follow-up instructions about running
// positions: full close, half close, and the secure-half-plus-BE play.
var hannahMgmtKeywords = []string{
	"CLOSE ALL", "CLOSE HALF", "SECURE HALF", "CERRAR TODO", "CERRAR LA MITAD",
	"ASEGURAR LA MITAD",
}

// LooksLikeHannahManagement reports whether text is a Hannah management
// instruction. Hannah entries always open with a "GOLD BUY/SELL NOW" header,
// so a management phrase without that header is unambiguous.
func LooksLikeHannahManagement(text string) bool {
	up := strings.ToUpper(text)
	if strings.Contains(up, "GOLD BUY NOW") || strings.Contains(up, "GOLD SELL NOW") {
		return false
	}
	for _, k := range hannahMgmtKeywords {
		if strings.Contains(up, k) {
			return true
		}
	}
	return false
}

// torofxMgmtKeywords are phrases unique to ToroFX position management.
var torofxMgmtKeywords = []string{
	"ASEGURANDO", "QUITANDO EL RIESGO", "TOMAR PARCIAL", "TOMANDO PARCIAL",
	"CIERRO MI ENTRADA", "CERRANDO EL RIESGO",
}

// LooksLikeToroFXManagement reports whether text is ToroFX management
// chatter. "Target: open" also marks ToroFX ownership; such text is still
// offered to the ToroFX parser first, since open-target entries read like
// management.
func LooksLikeToroFXManagement(text string) bool {
	up := strings.ToUpper(text)
	if strings.Contains(up, "TARGET: OPEN") {
		return true
	}
	for _, k := range torofxMgmtKeywords {
		if strings.Contains(up, k) {
			return true
		}
	}
	return false
}
