package agents

import "github.com/tributo-labs/defensor/pkg/contracts"

// regulatoryExtracts summarizes the fiscal framework the prompt anchors
// to, selected by typology. The generic extract applies when no
// specific one exists.
var regulatoryExtracts = map[contracts.Typology]string{
	contracts.TypologyConsulting: "Art. 27 LISR: estricta indispensabilidad del gasto; " +
		"la consultoría requiere entregables identificables y vínculo con la actividad preponderante.",
	contracts.TypologyIntragroupMgmtFee: "Arts. 76 y 179-180 LISR: operaciones entre partes relacionadas " +
		"a valores de mercado; se requiere estudio de precios de transferencia vigente y prueba de beneficio.",
	contracts.TypologySoftwareSaaS: "Art. 27 LISR y criterios sobre intangibles: licenciamiento documentado, " +
		"evidencia de uso y asignación de accesos por usuario.",
	contracts.TypologyMarketing: "Art. 27 LISR: campañas con piezas publicitarias conservadas, " +
		"métricas de alcance y contratos con alcance verificable.",
	contracts.TypologyLogistics: "Art. 27 LISR y CFF 29-A: cartas porte, evidencia de traslado " +
		"y correspondencia entre rutas facturadas y ejecutadas.",
	contracts.TypologyTechnicalAssistance: "Art. 27 fracc. X LISR: la asistencia técnica exige " +
		"transmisión efectiva de conocimientos, no mera disponibilidad.",
	contracts.TypologyRestructuring: "Arts. 14-B CFF y 24 LISR: las reestructuras requieren razón de negocio " +
		"documentada previa; escrutinio reforzado del beneficio económico.",
	contracts.TypologyLeasingIntercompany: "Arts. 179-180 LISR: arrendamiento intragrupo a valor de mercado, " +
		"con avalúo o comparables y uso demostrable del bien.",
}

const genericExtract = "Art. 27 LISR: el gasto debe ser estrictamente indispensable, " +
	"estar efectivamente erogado y contar con comprobante fiscal y materialidad demostrable."

// RegulatoryExtract returns the prompt's regulatory anchor for a
// typology.
func RegulatoryExtract(typology contracts.Typology) string {
	if extract, ok := regulatoryExtracts[typology]; ok {
		return extract
	}
	return genericExtract
}

// phaseChecklists lists what each phase's deliberation must cover.
var phaseChecklists = map[contracts.Phase]string{
	contracts.PhaseF0: "Verificar: razón de negocio declarada, tipología correcta, monto estimado, proveedor identificado.",
	contracts.PhaseF1: "Verificar: beneficio económico cuantificado, historial del proveedor, suficiencia presupuestal.",
	contracts.PhaseF2: "Verificar: aprobaciones de patrocinador y fiscal, presupuesto confirmado, sin banderas críticas.",
	contracts.PhaseF3: "Verificar: contrato firmado con fecha cierta, cláusulas de entregables, SOW anexo.",
	contracts.PhaseF4: "Verificar: avance de ejecución documentado, minutas y reportes parciales.",
	contracts.PhaseF5: "Verificar: entregables recibidos con acuse, correspondencia con el alcance contratado.",
	contracts.PhaseF6: "Verificar: matriz de materialidad completa, CFDI con descripción específica, conciliación 3-way dentro de tolerancia, vistos buenos fiscal y legal.",
	contracts.PhaseF7: "Verificar: conciliación contable de la factura, registro en pólizas.",
	contracts.PhaseF8: "Verificar: aprobación de finanzas, revisión humana cuando aplique, estudio de precios de transferencia si es intragrupo.",
	contracts.PhaseF9: "Verificar: expediente de defensa completo, síntesis de fortalezas y debilidades, acciones pendientes.",
}

// PhaseChecklist returns the deliberation checklist for a phase.
func PhaseChecklist(phase contracts.Phase) string {
	return phaseChecklists[phase]
}
