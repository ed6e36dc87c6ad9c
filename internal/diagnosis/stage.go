package diagnosis

import "fmt"

// Stage is a CKD stage derived from serum creatinine alone.
type Stage int

const (
	Stage1 Stage = iota + 1
	Stage2
	Stage3
	Stage4
	Stage5
)

func (s Stage) String() string {
	return fmt.Sprintf("Stage %d", int(s))
}

// StageFor maps a serum creatinine value (mg/dL) onto half-open intervals.
// Values that fail every comparison, NaN included, land in Stage 5.
func StageFor(creatinine float64) Stage {
	switch {
	case creatinine < 1.5:
		return Stage1
	case creatinine < 2.0:
		return Stage2
	case creatinine < 5.0:
		return Stage3
	case creatinine < 7.0:
		return Stage4
	default:
		return Stage5
	}
}
