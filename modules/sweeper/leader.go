package sweeper

// SingleNode is a LeaderElection for deployments without a cluster: the
// process is always the leader. Tests drive leadership flips through Flip.
type SingleNode struct {
	ch chan bool
}

var _ LeaderElection = (*SingleNode)(nil)

func NewSingleNode() *SingleNode {
	ch := make(chan bool, 1)
	ch <- true
	return &SingleNode{ch: ch}
}

func (s *SingleNode) Subscribe() <-chan bool { return s.ch }

// Flip injects a leadership change.
func (s *SingleNode) Flip(leader bool) { s.ch <- leader }
