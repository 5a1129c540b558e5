package callevents

import "fmt"

// NetworkQuality is a bucketed call quality score.
type NetworkQuality int

const (
	QualityUnknown NetworkQuality = iota
	QualityUnusable
	QualityVeryPoor
	QualityPoor
	QualityAverage
	QualityGood
)

// QualityFromFloat buckets an engine quality score in [0,5].
// Scores outside that range, including NaN, are QualityUnknown.
func QualityFromFloat(score float64) NetworkQuality {
	switch {
	case score >= 0 && score < 1:
		return QualityUnusable
	case score >= 1 && score < 2:
		return QualityVeryPoor
	case score >= 2 && score < 3:
		return QualityPoor
	case score >= 3 && score < 4:
		return QualityAverage
	case score >= 4 && score <= 5:
		return QualityGood
	default:
		return QualityUnknown
	}
}

// IsKnown reports whether the quality has been measured.
func (q NetworkQuality) IsKnown() bool {
	return q != QualityUnknown
}

func (q NetworkQuality) String() string {
	switch q {
	case QualityUnknown:
		return "UNKNOWN"
	case QualityUnusable:
		return "UNUSABLE"
	case QualityVeryPoor:
		return "VERY_POOR"
	case QualityPoor:
		return "POOR"
	case QualityAverage:
		return "AVERAGE"
	case QualityGood:
		return "GOOD"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}
