package classifier

// ClassInfo is the guidance shown next to a prediction.
type ClassInfo struct {
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	Color          string `json:"color"`
}

var classInfo = map[string]ClassInfo{
	LabelParasitized: {
		Description:    "Cell infected by the malaria parasite",
		Recommendation: "Medical consultation recommended immediately",
		Color:          "#dc3545",
	},
	LabelUninfected: {
		Description:    "Healthy, uninfected cell",
		Recommendation: "No action needed",
		Color:          "#28a745",
	},
}

// Info returns the guidance for label. Unknown labels get an empty ClassInfo.
func Info(label string) ClassInfo {
	return classInfo[label]
}
