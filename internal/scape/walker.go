package scape

import (
	"context"
	"fmt"
	"math"
)

const (
	walkerObservationSize = 8
	walkerActionSize      = 5

	walkerDefaultTicks = 600
	walkerDefaultLean  = 2.0

	walkerDT           = 0.02
	walkerMotorSpeed   = 50.0
	walkerTorqueGain   = 400.0
	walkerGravity      = 200.0
	walkerReaction     = 0.5
	walkerTorsoDamping = 0.98
	walkerTorsoLength  = 0.8
	walkerLegLength    = 1.0
	walkerHipLimit     = 60.0
	walkerKneeLimit    = 120.0
	walkerFallAngle    = 60.0
	walkerFallHeight   = 0.6
	walkerStepSwing    = 45.0

	walkerStepReward    = 5
	walkerUprightBonus  = 0.7
	walkerHeadBonus     = 0.2
	walkerFallPenalty   = 1.8
	walkerNoStepPenalty = 2.5
)

// WalkerScape is a planar biped reduced to joint kinematics and a torso that
// tips under gravity. Observations are
//
//	[torso, left knee, right knee, left hip, right hip, torso velocity, right leg velocity, left leg velocity]
//
// in degrees and degrees per second. Actions are torso torque followed by the
// left hip, right hip, left knee and right knee motor speeds, each scaled by
// the motor speed of 50 deg/s.
type WalkerScape struct {
	// Ticks is the episode length; zero means 600 (12 s at 50 Hz).
	Ticks int
	// Lean is the initial torso angle in degrees; zero means 2.
	Lean float64
}

func (WalkerScape) Name() string {
	return "walker"
}

func (WalkerScape) ObservationSize() int {
	return walkerObservationSize
}

func (WalkerScape) ActionSize() int {
	return walkerActionSize
}

type walkerState struct {
	torso, torsoVel    float64
	hipL, hipR         float64
	kneeL, kneeR       float64
	hipVelL, hipVelR   float64
	x                  float64
	headHeight         float64
	stepRefL, stepRefR float64
	steps              int
	fallen             bool
}

func (s *walkerState) observation(buf []float32) {
	buf[0] = float32(s.torso)
	buf[1] = float32(s.kneeL)
	buf[2] = float32(s.kneeR)
	buf[3] = float32(s.hipL)
	buf[4] = float32(s.hipR)
	buf[5] = float32(s.torsoVel)
	buf[6] = float32(s.hipVelR)
	buf[7] = float32(s.hipVelL)
}

func (w WalkerScape) Episode(ctx context.Context, ctrl Controller) (float32, Trace, error) {
	ticks := w.Ticks
	if ticks <= 0 {
		ticks = walkerDefaultTicks
	}
	lean := w.Lean
	if lean == 0 {
		lean = walkerDefaultLean
	}

	state := walkerState{torso: lean}
	state.headHeight = headHeight(&state)
	obs := make([]float32, walkerObservationSize)

	ran := 0
	for ; ran < ticks && !state.fallen; ran++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		state.observation(obs)
		action, err := ctrl.FeedForward(obs)
		if err != nil {
			return 0, nil, fmt.Errorf("walker tick %d: %w", ran, err)
		}
		if len(action) < walkerActionSize {
			return 0, nil, fmt.Errorf("walker requires %d outputs, got %d", walkerActionSize, len(action))
		}
		walkerStep(&state, action)
	}

	fitness := walkerFitness(&state)
	return fitness, Trace{
		"distance":    state.x,
		"steps":       state.steps,
		"fallen":      state.fallen,
		"ticks":       ran,
		"head_height": state.headHeight,
	}, nil
}

func walkerStep(s *walkerState, action []float32) {
	torque := clampUnit(float64(action[0]))
	s.hipVelL = clampUnit(float64(action[1])) * walkerMotorSpeed
	s.hipVelR = clampUnit(float64(action[2])) * walkerMotorSpeed
	kneeVelL := clampUnit(float64(action[3])) * walkerMotorSpeed
	kneeVelR := clampUnit(float64(action[4])) * walkerMotorSpeed

	prevL, prevR := s.hipL, s.hipR
	s.hipL = clamp(s.hipL+s.hipVelL*walkerDT, -walkerHipLimit, walkerHipLimit)
	s.hipR = clamp(s.hipR+s.hipVelR*walkerDT, -walkerHipLimit, walkerHipLimit)
	s.kneeL = clamp(s.kneeL+kneeVelL*walkerDT, 0, walkerKneeLimit)
	s.kneeR = clamp(s.kneeR+kneeVelR*walkerDT, 0, walkerKneeLimit)

	// The leg swinging backward hardest is planted and pushes the body forward.
	push := math.Min(s.hipL-prevL, s.hipR-prevR)
	s.x -= walkerLegLength * radians(push)

	accel := walkerGravity*math.Sin(radians(s.torso)) +
		walkerTorqueGain*torque -
		walkerReaction*(s.hipVelL+s.hipVelR)
	s.torsoVel = (s.torsoVel + accel*walkerDT) * walkerTorsoDamping
	s.torso += s.torsoVel * walkerDT
	s.headHeight = headHeight(s)

	if math.Abs(s.hipL-s.stepRefL) >= walkerStepSwing && math.Abs(s.hipR-s.stepRefR) >= walkerStepSwing {
		s.steps++
		s.stepRefL, s.stepRefR = s.hipL, s.hipR
	}
	if math.Abs(s.torso) > walkerFallAngle || s.headHeight < walkerFallHeight {
		s.fallen = true
	}
}

// headHeight stands the torso on the more upright leg.
func headHeight(s *walkerState) float64 {
	hip, knee := s.hipL, s.kneeL
	if math.Abs(s.hipR) < math.Abs(s.hipL) {
		hip, knee = s.hipR, s.kneeR
	}
	leg := walkerLegLength * math.Cos(radians(hip)) * math.Cos(radians(knee/2))
	return leg + walkerTorsoLength*math.Cos(radians(s.torso))
}

func walkerFitness(s *walkerState) float32 {
	fitness := s.x + float64(s.steps*walkerStepReward)
	switch {
	case !s.fallen:
		fitness += walkerUprightBonus + walkerHeadBonus/s.headHeight
	case s.steps == 0:
		fitness -= walkerNoStepPenalty
	default:
		fitness -= walkerFallPenalty
	}
	return float32(fitness)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, -1, 1)
}
