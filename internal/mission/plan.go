package mission

import (
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gopkg.in/yaml.v3"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
)

var errFactory = errors.New()

// Waypoint is one navigation target. Altitude is meters above home;
// Hold is how long to sit at the waypoint before moving on, in
// fractional seconds (the executor's default applies when zero).
// Radius is the acceptance radius in meters, PassThrough skips the
// stop at the waypoint, and Yaw is the desired heading in degrees.
// Seq is assigned from list order on load.
type Waypoint struct {
	Seq         int     `yaml:"seq,omitempty"`
	Lat         float64 `yaml:"lat"`
	Lon         float64 `yaml:"lon"`
	Altitude    float64 `yaml:"altitude"`
	Hold        float64 `yaml:"hold,omitempty"`
	Radius      float64 `yaml:"radius,omitempty"`
	PassThrough bool    `yaml:"pass_through,omitempty"`
	Yaw         float64 `yaml:"yaw,omitempty"`
}

// HoldDuration converts the hold time to a duration.
func (w Waypoint) HoldDuration() time.Duration {
	return time.Duration(w.Hold * float64(time.Second))
}

// Completion policies for the end of a plan.
const (
	CompleteRTL    = "rtl"
	CompleteLoiter = "loiter"
)

// Plan is an ordered set of waypoints with execution parameters.
type Plan struct {
	ID         string     `yaml:"id,omitempty"`
	Name       string     `yaml:"name"`
	Waypoints  []Waypoint `yaml:"waypoints"`
	Speed      float64    `yaml:"speed,omitempty"`
	OnComplete string     `yaml:"on_complete,omitempty"`
	CreatedAt  time.Time  `yaml:"created_at,omitempty"`
}

// Validate checks the plan against structural limits. maxWaypoints of 0
// means unlimited.
func (p *Plan) Validate(maxWaypoints int) error {
	if len(p.Waypoints) == 0 {
		return errFactory.WithMessage(ErrInvalidPlan, "plan has no waypoints")
	}
	if maxWaypoints > 0 && len(p.Waypoints) > maxWaypoints {
		return errFactory.WithMessage(ErrInvalidPlan, "plan exceeds waypoint limit")
	}
	for _, wp := range p.Waypoints {
		if wp.Lat < -90 || wp.Lat > 90 || wp.Lon < -180 || wp.Lon > 180 {
			return errFactory.WithMessage(ErrInvalidPlan, "waypoint coordinate out of range")
		}
		if wp.Altitude < 0 {
			return errFactory.WithMessage(ErrInvalidPlan, "waypoint altitude is negative")
		}
		if wp.Hold < 0 || wp.Radius < 0 {
			return errFactory.WithMessage(ErrInvalidPlan, "waypoint hold or radius is negative")
		}
	}
	switch p.OnComplete {
	case "", CompleteRTL, CompleteLoiter:
	default:
		return errFactory.WithData(ErrInvalidPlan, p.OnComplete)
	}

	return nil
}

// TotalDistance is the great-circle path length over the waypoints, in
// meters.
func (p *Plan) TotalDistance() float64 {
	total := 0.0
	for i := 1; i < len(p.Waypoints); i++ {
		a := orb.Point{p.Waypoints[i-1].Lon, p.Waypoints[i-1].Lat}
		b := orb.Point{p.Waypoints[i].Lon, p.Waypoints[i].Lat}
		total += geo.DistanceHaversine(a, b)
	}

	return total
}

// Load reads a plan from a YAML file. A missing id is filled in.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrPlanLoadFailed, err)
	}

	var plan Plan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, errFactory.Wrap(ErrPlanLoadFailed, err)
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	for i := range plan.Waypoints {
		plan.Waypoints[i].Seq = i
	}

	return &plan, nil
}

// SquarePattern builds a survey square centered on the given point. The
// side length is in meters; the path closes back on the first corner.
func SquarePattern(centerLat, centerLon, side, altitude float64) *Plan {
	half := side / 2

	// Meters per degree at this latitude.
	latStep := half / 111320.0
	lonStep := half / (111320.0 * math.Cos(centerLat*math.Pi/180))

	corners := []Waypoint{
		{Lat: centerLat + latStep, Lon: centerLon - lonStep, Altitude: altitude},
		{Lat: centerLat + latStep, Lon: centerLon + lonStep, Altitude: altitude},
		{Lat: centerLat - latStep, Lon: centerLon + lonStep, Altitude: altitude},
		{Lat: centerLat - latStep, Lon: centerLon - lonStep, Altitude: altitude},
	}
	corners = append(corners, corners[0])
	for i := range corners {
		corners[i].Seq = i
	}

	return &Plan{
		ID:         uuid.NewString(),
		Name:       "square survey",
		Waypoints:  corners,
		OnComplete: CompleteRTL,
		CreatedAt:  time.Now(),
	}
}
