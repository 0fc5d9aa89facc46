//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
// They enforce the error, logging and concurrency conventions used across camhal.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ErrorsBuilderComponent flags enhanced errors built without a component.
//
// Every error leaving a package carries the component that raised it so
// notifications and logs can be attributed:
//
//	errors.New(err).
//	    Component("muxer").
//	    Category(errors.CategoryComposition).
//	    Build()
func ErrorsBuilderComponent(m dsl.Matcher) {
	m.Import("github.com/tphakala/camhal/internal/errors")

	m.Match(`errors.New($err).Build()`).
		Report("set Component and Category before Build()")

	m.Match(`errors.Newf($*_).Build()`).
		Report("set Component and Category before Build()")
}

// ErrorsStdlibWrap flags fmt.Errorf in packages that return enhanced errors.
// Wrapping with %w drops the code that callers and notifications rely on.
func ErrorsStdlibWrap(m dsl.Matcher) {
	m.Match(`fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`internal/(hwi|jobqueue|muxer|simhw|events)$`)).
		Report("use errors.Newf(...).Component(...).Build() so the error keeps its code")
}

// LoggerFormatted flags formatted messages passed to the structured logger.
//
//	log.Info(fmt.Sprintf("job %d failed", id))
//
// should be
//
//	log.Info("job failed", logger.Uint32("job_id", id))
func LoggerFormatted(m dsl.Matcher) {
	m.Import("github.com/tphakala/camhal/internal/logger")

	m.Match(`$log.$method(fmt.Sprintf($*_), $*_)`).
		Where(m["log"].Type.Implements("logger.Logger") &&
			m["method"].Text.Matches(`^(Trace|Debug|Info|Warn|Error)$`)).
		Report("pass a constant message and structured fields instead of fmt.Sprintf")
}

// SlogPackageFuncs flags the slog package level functions, which bypass the
// module levels of the central logger.
func SlogPackageFuncs(m dsl.Matcher) {
	m.Match(`slog.Info($*_)`, `slog.Warn($*_)`, `slog.Error($*_)`, `slog.Debug($*_)`).
		Report("use logger.Global().Module(...) instead of the slog package functions")
}

// WaitGroupGo detects the old sync.WaitGroup pattern that wg.Go replaces.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("sync.WaitGroup") || m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of Add(1) with defer Done()").
		Suggest("$wg.Go(func() { $body })")
}
