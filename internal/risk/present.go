package risk

// ColorClassFor returns the display styling token for a level. Unknown levels map to "gray".
func ColorClassFor(level RiskLevel) string {
	switch level {
	case LevelLow:
		return "green"
	case LevelMedium:
		return "yellow"
	case LevelHigh:
		return "orange"
	case LevelCritical:
		return "red"
	default:
		return "gray"
	}
}

// LabelFor returns the localized display label for a level. Unknown levels map to "Desconhecido".
func LabelFor(level RiskLevel) string {
	switch level {
	case LevelLow:
		return "Baixo"
	case LevelMedium:
		return "Médio"
	case LevelHigh:
		return "Alto"
	case LevelCritical:
		return "Crítico"
	default:
		return "Desconhecido"
	}
}
