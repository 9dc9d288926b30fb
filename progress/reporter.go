package progress

// Reporter receives progress tuples from a sync run. Implementations must
// be safe for concurrent use and must not block for long.
type Reporter interface {
	Report(stage Stage, percentage, total, processed int)
}

// Failer is implemented by reporters that can record why a run failed.
// Callers report StageFailed through Fail when the reporter supports it.
type Failer interface {
	Fail(percentage, total, processed int, err error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(stage Stage, percentage, total, processed int)

// Report calls f.
func (f ReporterFunc) Report(stage Stage, percentage, total, processed int) {
	f(stage, percentage, total, processed)
}

type nopReporter struct{}

func (nopReporter) Report(Stage, int, int, int) {}

// Nop discards all reports.
var Nop Reporter = nopReporter{}

type multiReporter []Reporter

// Multi fans a report out to every non-nil reporter.
func Multi(reporters ...Reporter) Reporter {
	out := make(multiReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiReporter) Report(stage Stage, percentage, total, processed int) {
	for _, r := range m {
		r.Report(stage, percentage, total, processed)
	}
}

func (m multiReporter) Fail(percentage, total, processed int, err error) {
	for _, r := range m {
		ReportFailure(r, percentage, total, processed, err)
	}
}

// ReportFailure reports StageFailed, passing err along when r is a Failer.
func ReportFailure(r Reporter, percentage, total, processed int, err error) {
	if f, ok := r.(Failer); ok {
		f.Fail(percentage, total, processed, err)
		return
	}
	r.Report(StageFailed, percentage, total, processed)
}
