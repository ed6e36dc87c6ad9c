package diagnosis

import "fmt"

// Recommend returns the advice text for a final verdict and stage.
func Recommend(verdict string, stage Stage) string {
	switch {
	case verdict == LabelCKD:
		return fmt.Sprintf("CKD %s detected. Recommend nephrologist consultation, dietary monitoring, and hydration control.", stage)
	case stage != Stage1:
		return fmt.Sprintf("No CKD detected. However, %s indicators present. Recommend regular monitoring and healthy lifestyle.", stage)
	default:
		return "No CKD detected. Maintain a healthy lifestyle."
	}
}
