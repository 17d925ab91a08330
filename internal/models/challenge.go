package models

// ChallengeStatus defines the lifecycle status of a challenge.
type ChallengeStatus string

const (
	ChallengeStatusWaiting   ChallengeStatus = "waiting"
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusCompleted ChallengeStatus = "completed"
)

// ParticipantStatus defines the status of a single entrant.
type ParticipantStatus string

const (
	ParticipantStatusWaiting ParticipantStatus = "waiting"
	ParticipantStatusActive  ParticipantStatus = "active"
	ParticipantStatusLost    ParticipantStatus = "lost"
	ParticipantStatusWon     ParticipantStatus = "won"
)

// Participant is one entrant in a challenge, keyed by participant id
// inside Challenge.Participants.
type Participant struct {
	Name   string            `json:"name"`
	Reward string            `json:"reward"`
	Status ParticipantStatus `json:"status"`
}

// Challenge is the sole aggregate: one duel, its entrants and its timing.
// StartTime and EndTime are epoch milliseconds, nil until the challenge
// starts, and immutable once set.
type Challenge struct {
	ID           string                 `json:"id"`
	CreatedBy    string                 `json:"createdBy"`
	Duration     int                    `json:"duration"`
	Reward       string                 `json:"reward"`
	Participants map[string]Participant `json:"participants"`
	Status       ChallengeStatus        `json:"status"`
	StartTime    *int64                 `json:"startTime"`
	EndTime      *int64                 `json:"endTime"`
}

// Terminal reports whether a participant status permits no further
// transitions.
func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantStatusLost || s == ParticipantStatusWon
}

// Rank orders participant statuses along the only legal path
// waiting -> active -> terminal. Lost and won share a rank; neither
// ever replaces the other.
func (s ParticipantStatus) Rank() int {
	switch s {
	case ParticipantStatusActive:
		return 1
	case ParticipantStatusLost, ParticipantStatusWon:
		return 2
	default:
		return 0
	}
}

// Rank orders challenge statuses monotonically.
func (s ChallengeStatus) Rank() int {
	switch s {
	case ChallengeStatusActive:
		return 1
	case ChallengeStatusCompleted:
		return 2
	default:
		return 0
	}
}

// Clone returns a deep copy. Transition helpers operate on copies so a
// Challenge value held by callbacks is never mutated underneath them.
func (c *Challenge) Clone() *Challenge {
	out := *c
	out.Participants = make(map[string]Participant, len(c.Participants))
	for id, p := range c.Participants {
		out.Participants[id] = p
	}
	if c.StartTime != nil {
		t := *c.StartTime
		out.StartTime = &t
	}
	if c.EndTime != nil {
		t := *c.EndTime
		out.EndTime = &t
	}
	return &out
}

// Start transitions the challenge to active, fixing StartTime/EndTime from
// the given epoch-ms instant and promoting every participant from waiting
// to active. This is the only place the timestamps are ever set.
func (c *Challenge) Start(nowMillis int64) *Challenge {
	out := c.Clone()
	end := nowMillis + int64(c.Duration)*60_000
	out.Status = ChallengeStatusActive
	out.StartTime = &nowMillis
	out.EndTime = &end
	for id, p := range out.Participants {
		p.Status = ParticipantStatusActive
		out.Participants[id] = p
	}
	return out
}

// RecordLoss eliminates the given participant and resolves the aggregate:
// exactly one active participant left promotes to won and completes the
// challenge; zero left completes it with no winner. A participant already
// terminal makes this a no-op, which is what keeps redundant loss signals
// harmless.
func (c *Challenge) RecordLoss(participantID string) *Challenge {
	p, ok := c.Participants[participantID]
	if !ok || p.Status.Terminal() {
		return c.Clone()
	}

	out := c.Clone()
	p.Status = ParticipantStatusLost
	out.Participants[participantID] = p

	var activeIDs []string
	for id, q := range out.Participants {
		if q.Status == ParticipantStatusActive {
			activeIDs = append(activeIDs, id)
		}
	}

	switch len(activeIDs) {
	case 1:
		winner := out.Participants[activeIDs[0]]
		winner.Status = ParticipantStatusWon
		out.Participants[activeIDs[0]] = winner
		out.Status = ChallengeStatusCompleted
	case 0:
		out.Status = ChallengeStatusCompleted
	}
	return out
}

// CompleteOnTimeout resolves a challenge whose deadline has elapsed:
// every still-active participant won, eliminated participants stay lost.
func (c *Challenge) CompleteOnTimeout() *Challenge {
	out := c.Clone()
	if c.Status == ChallengeStatusCompleted {
		return out
	}
	for id, p := range out.Participants {
		if p.Status == ParticipantStatusActive {
			p.Status = ParticipantStatusWon
			out.Participants[id] = p
		}
	}
	out.Status = ChallengeStatusCompleted
	return out
}

// ActiveCount returns how many participants are still active.
func (c *Challenge) ActiveCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantStatusActive {
			n++
		}
	}
	return n
}

// WonRewards collects the staked rewards of every winning participant,
// skipping empty stakes.
func (c *Challenge) WonRewards() []string {
	var rewards []string
	for _, p := range c.Participants {
		if p.Status == ParticipantStatusWon && p.Reward != "" {
			rewards = append(rewards, p.Reward)
		}
	}
	return rewards
}
