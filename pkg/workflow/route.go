package workflow

// DefaultMaxRetries is the number of failed verdicts a task may collect
// and still be retried.
const DefaultMaxRetries = 3

// Route returns the node that follows from once its patch has been
// applied to s. The counter seen here already includes the failure the
// critic just reported.
func Route(from Node, s *State, maxRetries int) Node {
	switch from {
	case Curriculum:
		return Skill
	case Skill:
		return Action
	case Action:
		return Critic
	case Critic:
		if s.Succeeded() {
			return Learning
		}
		if s.RetryCount <= maxRetries {
			return Action
		}
		return Curriculum
	case Learning:
		return Curriculum
	}
	return End
}
