package stagequeue

import "time"

// LoggingMiddleware logs every execution through the project's logger.
func LoggingMiddleware() ActionMiddleware {
	return func(next ActionRunnerFunc) ActionRunnerFunc {
		return func(p *Project, exec Execution) error {
			mode := "drain"
			if exec.Inline {
				mode = "inline"
			}
			logger := p.Logger()
			logger.Debug("Running %s action #%d on %s (%s)", exec.Stage, exec.Seq, p.Path(), mode)

			start := time.Now()
			err := next(p, exec)
			duration := time.Since(start)

			if err != nil {
				logger.Error("%s action #%d on %s failed after %v: %v",
					exec.Stage, exec.Seq, p.Path(), duration.Round(time.Millisecond), err)
			} else {
				logger.Debug("%s action #%d on %s completed in %v",
					exec.Stage, exec.Seq, p.Path(), duration.Round(time.Millisecond))
			}
			return err
		}
	}
}
