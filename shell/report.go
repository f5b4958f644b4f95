package shell

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"

	"github.com/imhunterand/iDA-projectile/arena"
)

// Report renders the state printed by the state command.
func Report(b arena.Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "t=%.3fs mode=%s paused=%v", b.Time, b.Interception.Mode, b.Paused)
	if b.Interception.Target != nil {
		fmt.Fprintf(&sb, " target=%d intercept_t=%.3f intercept=%s engagement=%s",
			b.Interception.Target.ID, b.Interception.InterceptTime, fmtVec(b.Interception.InterceptPoint.X,
				b.Interception.InterceptPoint.Y, b.Interception.InterceptPoint.Z), b.Interception.EngagementID)
	}
	sb.WriteString("\n")

	if b.Robot != nil {
		fmt.Fprintf(&sb, "q=%s\ndq=%s\n", fmtVec(b.Robot.Q...), fmtVec(b.Robot.DQ...))
		ee := b.Robot.EEPosition
		fmt.Fprintf(&sb, "ee=%s", fmtVec(ee.X, ee.Y, ee.Z))
		if b.Robot.EERotation != nil {
			ea := b.Robot.EERotation.EulerAngles()
			fmt.Fprintf(&sb, " rpy=%s", fmtVec(ea.Roll, ea.Pitch, ea.Yaw))
		}
		sb.WriteString("\n")
	}
	if b.Setpoint != nil {
		p := b.Setpoint.Position
		fmt.Fprintf(&sb, "setpoint=%s strategy=%s", fmtVec(p.X, p.Y, p.Z), b.Setpoint.Strategy)
		if b.Override != nil {
			sb.WriteString(" (override)")
		}
		if b.Strategy != "" {
			fmt.Fprintf(&sb, " forced=%s", b.Strategy)
		}
		sb.WriteString("\n")
	}
	if len(b.Command.Torque) > 0 {
		squares := make(stats.Float64Data, len(b.Command.Torque))
		for i, tau := range b.Command.Torque {
			squares[i] = tau * tau
		}
		// only fails on empty input
		meanSquare, _ := stats.Mean(squares)
		fmt.Fprintf(&sb, "torque=%s rms=%.3f hold=%v\n", fmtVec(b.Command.Torque...), math.Sqrt(meanSquare), b.Command.Hold)
	}
	if g := b.Gains; g != nil {
		fmt.Fprintf(&sb, "gains kp_p=%g kv_p=%g kp_r=%g kv_r=%g kp_q=%s kv_q=%s friction=%g\n",
			g.KpPosition, g.KvPosition, g.KpRotation, g.KvRotation, fmtVec(g.KpJoint...), fmtVec(g.KvJoint...), g.KvFriction)
	}
	fmt.Fprintf(&sb, "projectiles=%d ingested=%d rejected=%d dropped=%d actuator_failures=%d control_errors=%d intercepts=%d\n",
		b.Projectiles.Len(), b.Counters.Ingested, b.Counters.Rejected, b.Counters.Dropped,
		b.Counters.ActuatorFailures, b.Counters.ControlErrors, b.Counters.CompletedIntercepts)

	loops := make([]string, 0, len(b.Timing))
	for name := range b.Timing {
		loops = append(loops, name)
	}
	if len(loops) == 0 {
		return sb.String()
	}
	sort.Strings(loops)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Loop", "Samples", "Mean (us)", "P99 (us)", "Max (us)"})
	for _, name := range loops {
		s := b.Timing[name]
		t.AppendRow(table.Row{
			name,
			s.Count,
			fmt.Sprintf("%.1f", s.Mean*1e6),
			fmt.Sprintf("%.1f", s.P99*1e6),
			fmt.Sprintf("%.1f", s.Max*1e6),
		})
	}
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	return sb.String()
}

func fmtVec(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
