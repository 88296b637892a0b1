package telemetry

// API is how components report what happens to them. Tests swap it for a
// Recorder to assert on reports.
type API interface {
	// ReportBroken reports a component that failed in a way an operator has to
	// look at.
	//
	// The id names the component and method, not the detail of the failure:
	// a failed http request in the page driver's ReadDetailPage is reported as
	// `driver.read-detail-page`, the detail goes into params. Ids are lowercase
	// `<struct>.<method>` with dashes inside the method name. ScopedAPI adds the
	// package namespace so ids never carry a file path.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something worth investigating that the component
	// recovered from. Ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug is dropped in production.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current value of a count, values are points over
	// time and must not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, nested scopes join with dots.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scope(id string) string {
	return s.namespace + "." + id
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scope(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scope(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.namespace+": "+msg, params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scope(id), count)
}
