package dashboard

const DefaultActionLogLimit = 100

// maxPCs is how many per-PC preference slots the front end keeps.
const maxPCs = 20

// DefaultPreferences returns a fresh copy of the preference defaults.
func DefaultPreferences() map[string]any {
	idle := make([]any, maxPCs)
	minutes := make([]any, maxPCs)
	for i := range idle {
		idle[i] = false
		minutes[i] = float64(30)
	}
	return map[string]any{
		"soundEnabled":             true,
		"theme":                    "dark",
		"advancedFeaturesExpanded": false,
		"idleEnabled":              idle,
		"idleMinutes":              minutes,
		"actionLogLimit":           float64(DefaultActionLogLimit),
	}
}

// DefaultConfig returns a fresh copy of the dashboard config defaults.
func DefaultConfig() map[string]any {
	return map[string]any{
		"version":  "1.0",
		"firstRun": true,
		"hardware": map[string]any{
			"hasSwitch": false,
			"pcCount":   float64(1),
		},
		"pcs": []any{
			map[string]any{
				"id":       float64(0),
				"name":     "PC 1",
				"port":     float64(0),
				"icon":     "🖥️",
				"iconType": "emoji",
			},
		},
		"appearance": map[string]any{
			"theme":           "dark",
			"primaryColor":    "#667eea",
			"secondaryColor":  "#764ba2",
			"backgroundColor": "#1e1e1e",
			"backgroundImage": "",
			"logo":            "/logo.png",
			"dashboardTitle":  "Control Dashboard",
		},
		"features": map[string]any{
			"keyboardShortcuts":  true,
			"scheduledActions":   true,
			"idleShutdown":       true,
			"actionLog":          true,
			"uptimeTracking":     true,
			"soundNotifications": true,
			"hddActivity":        true,
		},
		"advanced": map[string]any{
			"statusCheckInterval": float64(30000),
			"hddCheckInterval":    float64(1000),
			"actionLogLimit":      float64(100),
			"requireConfirmation": true,
			"safeMode":            false,
			"customCSS":           "",
		},
	}
}

// DeepMerge copies patch into base. Nested objects present on both sides are
// merged key by key; everything else in patch replaces the base value.
func DeepMerge(base, patch map[string]any) {
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := base[k].(map[string]any); ok {
				DeepMerge(bm, pm)
				continue
			}
		}
		base[k] = v
	}
}
