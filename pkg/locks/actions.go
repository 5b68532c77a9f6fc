package locks

import "regexp"

// Action is the suggested remediation for a blocker, in both languages
// the frontends render.
type Action struct {
	Action   string `json:"action"`
	ActionES string `json:"accion"`
}

// actionRule keys the table by a regex over the blocker text. First
// match wins. The existing keys and their action strings are part of
// the external contract and must not change.
type actionRule struct {
	key      *regexp.Regexp
	action   string
	actionES string
}

var actionTable = []actionRule{
	{regexp.MustCompile(`(?i)F0.*completed`), "Complete phase F0", "Completar fase F0"},
	{regexp.MustCompile(`(?i)F1.*completed`), "Complete phase F1", "Completar fase F1"},
	{regexp.MustCompile(`(?i)F5.*completed`), "Complete phase F5", "Completar fase F5"},
	{regexp.MustCompile(`(?i)F6.*completed`), "Complete phase F6", "Completar fase F6"},
	{regexp.MustCompile(`(?i)F7.*completed`), "Complete phase F7", "Completar fase F7"},
	{regexp.MustCompile(`(?i)A1`), "Obtain A1-Sponsor approval", "Obtener aprobación de A1-Sponsor"},
	{regexp.MustCompile(`(?i)budget`), "Confirm budget with Finance (A5)", "Confirmar presupuesto con Finanzas (A5)"},
	{regexp.MustCompile(`(?i)A3|VBC_FISCAL`), "Obtain A3-Fiscal approval", "Obtener aprobación de A3-Fiscal"},
	{regexp.MustCompile(`(?i)A4|VBC_LEGAL`), "Obtain A4-Legal approval", "Obtener aprobación de A4-Legal"},
	{regexp.MustCompile(`(?i)A5.*approval`), "Obtain A5-Finance approval", "Obtener aprobación de A5-Finanzas"},
	{regexp.MustCompile(`(?i)materiality`), "Complete materiality matrix to 80%", "Completar matriz de materialidad al 80%"},
	{regexp.MustCompile(`(?i)tp|transfer`), "Attach current transfer-pricing study", "Adjuntar estudio de precios de transferencia vigente"},
	{regexp.MustCompile(`(?i)3-way|match`), "Ensure 3-way match delta < 5%", "Verificar que diferencia de 3-way match sea menor a 5%"},
	{regexp.MustCompile(`(?i)efos`), "Clear supplier EFOS status", "Regularizar estatus EFOS del proveedor"},
	{regexp.MustCompile(`(?i)description`), "Provide a specific invoice description", "Detallar la descripción de la factura"},
	{regexp.MustCompile(`(?i)human review`), "Obtain human review sign-off", "Obtener visto bueno de revisión humana"},
	{regexp.MustCompile(`(?i)invoice.*missing`), "Attach the invoice document", "Adjuntar la factura"},
	{regexp.MustCompile(`(?i)critical flag`), "Resolve unresolved critical flags", "Resolver banderas críticas pendientes"},
}

// SuggestedActions maps blockers to remediation actions, preserving
// blocker order and deduplicating repeated actions.
func SuggestedActions(blockers []string) []Action {
	seen := make(map[string]bool)
	var actions []Action
	for _, blocker := range blockers {
		a := actionFor(blocker)
		if !seen[a.Action] {
			seen[a.Action] = true
			actions = append(actions, a)
		}
	}
	return actions
}

func actionFor(blocker string) Action {
	for _, rule := range actionTable {
		if rule.key.MatchString(blocker) {
			return Action{Action: rule.action, ActionES: rule.actionES}
		}
	}
	return Action{Action: "Resolve: " + blocker, ActionES: "Resolver: " + blocker}
}
