package emotion

// valence places labels on the -2..+2 scale used by trajectory analysis.
// Coarse sentiment labels and the keyword classifier's labels share it.
var valence = map[string]float64{
	"very_positive":   2.0,
	"positive":        1.0,
	"mildly_positive": 0.5,
	"neutral":         0.0,
	"mildly_negative": -0.5,
	"negative":        -1.0,
	"very_negative":   -2.0,
	"contemplative":   0.2,
	"anxious":         -0.8,

	"joy":         1.5,
	"excitement":  1.5,
	"gratitude":   1.0,
	"pride":       1.0,
	"contentment": 0.8,
	"curiosity":   0.5,
	"surprise":    0.2,
	"anxiety":     -0.8,
	"sadness":     -1.5,
	"anger":       -1.5,
	"fear":        -1.5,
	"disgust":     -1.0,
	"shame":       -1.0,
	"loneliness":  -1.2,
}

// Valence returns the numeric valence of a label; unknown labels are neutral.
func Valence(label string) float64 {
	return valence[label]
}

// weight is how strongly a label counts toward significance.
var weight = map[string]float64{
	"very_positive":   0.9,
	"very_negative":   0.9,
	"anxious":         0.8,
	"positive":        0.7,
	"negative":        0.7,
	"contemplative":   0.6,
	"mildly_positive": 0.5,
	"mildly_negative": 0.5,
	"neutral":         0.3,

	"fear":        0.9,
	"anger":       0.8,
	"anxiety":     0.8,
	"sadness":     0.8,
	"loneliness":  0.8,
	"joy":         0.7,
	"excitement":  0.7,
	"shame":       0.7,
	"gratitude":   0.6,
	"pride":       0.6,
	"disgust":     0.6,
	"surprise":    0.5,
	"curiosity":   0.5,
	"contentment": 0.5,
}

// Weight returns the significance weight of a label, 0.3 when unknown.
func Weight(label string) float64 {
	if w, ok := weight[label]; ok {
		return w
	}
	return 0.3
}

var positive = map[string]bool{
	"very_positive": true, "positive": true, "mildly_positive": true,
	"joy": true, "excitement": true, "gratitude": true, "pride": true,
	"contentment": true, "curiosity": true,
}

var negative = map[string]bool{
	"very_negative": true, "negative": true, "mildly_negative": true,
	"sadness": true, "anger": true, "fear": true, "disgust": true,
	"shame": true, "loneliness": true,
}

// Polarity is +1 for positive labels, -1 for negative ones and 0 otherwise.
// Anxiety is tracked on its own and has no polarity.
func Polarity(label string) int {
	switch {
	case positive[label]:
		return 1
	case negative[label]:
		return -1
	default:
		return 0
	}
}
