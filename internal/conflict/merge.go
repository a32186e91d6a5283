package conflict

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/num/quat"

	"github.com/tandemcad/tandem/pkg/collab"
)

// Merge strategy semantics
//
// Merging combines both operations into one new operation that preserves as
// much of each user's intent as possible. The merged operation gets a fresh
// ID and records its sources in "merged_from" metadata. Pairs with no sound
// combination return errUnmergeable and fall back to the manual queue.

// compatibleConstraints whitelists constraint-type pairs that can coexist as
// a compound constraint. All other pairs are unmergeable.
var compatibleConstraints = map[[2]string]bool{
	{"angle", "distance"}:         true,
	{"parallel", "perpendicular"}: true,
	{"horizontal", "vertical"}:    true,
}

func mergeOperations(conflict *collab.Conflict) (*collab.Operation, error) {
	op1, op2 := conflict.Op1, conflict.Op2

	switch conflict.Type {
	case collab.ConflictProperty:
		return mergeProperties(op1, op2)

	case collab.ConflictPosition:
		switch {
		case op1.Kind == collab.OpMove && op2.Kind == collab.OpMove:
			return mergeMoves(op1, op2)
		case op1.Kind == collab.OpRotate && op2.Kind == collab.OpRotate:
			return mergeRotations(op1, op2)
		default:
			return nil, fmt.Errorf("%w: %s/%s position pair", errUnmergeable, op1.Kind, op2.Kind)
		}

	case collab.ConflictConstraint:
		return mergeConstraints(op1, op2, conflict.AffectedObjects)

	default:
		return nil, fmt.Errorf("%w: %s conflict", errUnmergeable, conflict.Type)
	}
}

// mergeProperties folds two modifications into one MODIFY. Disjoint keys are
// unioned; for a contested key, numeric values average (in exact decimal
// arithmetic when either side is decimal-typed, so engineering tolerances do
// not drift) and string values concatenate with a separator so neither input
// is lost.
func mergeProperties(op1, op2 *collab.Operation) (*collab.Operation, error) {
	params := make(map[string]interface{}, len(op1.Parameters)+len(op2.Parameters))
	for k, v := range op1.Parameters {
		params[k] = v
	}

	for key, v2 := range op2.Parameters {
		v1, contested := params[key]
		if !contested {
			params[key] = v2
			continue
		}

		merged, err := mergeValues(v1, v2)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", errUnmergeable, key, err)
		}
		params[key] = merged
	}

	return mergedOperation(collab.OpModify, op1, op2, params), nil
}

func mergeValues(v1, v2 interface{}) (interface{}, error) {
	if isDecimalTyped(v1) || isDecimalTyped(v2) {
		d1, ok1 := toDecimal(v1)
		d2, ok2 := toDecimal(v2)
		if ok1 && ok2 {
			return d1.Add(d2).Div(decimal.NewFromInt(2)), nil
		}
	}

	f1, ok1 := toFloat(v1)
	f2, ok2 := toFloat(v2)
	if ok1 && ok2 {
		return (f1 + f2) / 2, nil
	}

	s1, ok1 := v1.(string)
	s2, ok2 := v2.(string)
	if ok1 && ok2 {
		return s1 + " | " + s2, nil
	}

	return nil, fmt.Errorf("incompatible value types %T and %T", v1, v2)
}

// isDecimalTyped reports whether the value demands exact decimal arithmetic:
// either an explicit decimal.Decimal or a numeric string.
func isDecimalTyped(v interface{}) bool {
	switch n := v.(type) {
	case decimal.Decimal:
		return true
	case string:
		_, err := decimal.NewFromString(n)
		return err == nil
	default:
		return false
	}
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	default:
		return decimal.Decimal{}, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// mergeMoves resolves two concurrent absolute moves to the component-wise
// average of both target points.
func mergeMoves(op1, op2 *collab.Operation) (*collab.Operation, error) {
	p1, ok1 := collab.PointParam(op1.Parameters, "position")
	p2, ok2 := collab.PointParam(op2.Parameters, "position")
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: move without target position", errUnmergeable)
	}

	params := map[string]interface{}{"position": p1.Midpoint(p2)}
	return mergedOperation(collab.OpMove, op1, op2, params), nil
}

// mergeRotations composes two concurrent rotations via quaternion
// multiplication (op2's rotation applied after op1's) and converts the result
// back to Euler angles. Averaging Euler angles directly is not
// rotation-order-invariant and produces gimbal-lock artifacts, so the merge
// goes through quaternions.
func mergeRotations(op1, op2 *collab.Operation) (*collab.Operation, error) {
	r1, ok1 := collab.PointParam(op1.Parameters, "rotation")
	r2, ok2 := collab.PointParam(op2.Parameters, "rotation")
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: rotate without rotation angles", errUnmergeable)
	}

	q1 := eulerToQuat(r1)
	q2 := eulerToQuat(r2)
	composed := quat.Mul(q2, q1)

	params := map[string]interface{}{"rotation": quatToEuler(composed)}
	return mergedOperation(collab.OpRotate, op1, op2, params), nil
}

// mergeConstraints combines two compatible constraint additions into a single
// compound constraint spanning the union of their references.
func mergeConstraints(op1, op2 *collab.Operation, affected []string) (*collab.Operation, error) {
	if op1.Kind != collab.OpConstraintAdd || op2.Kind != collab.OpConstraintAdd {
		return nil, fmt.Errorf("%w: %s/%s constraint pair", errUnmergeable, op1.Kind, op2.Kind)
	}

	t1, _ := op1.Parameters["constraint_type"].(string)
	t2, _ := op2.Parameters["constraint_type"].(string)

	pair := [2]string{t1, t2}
	if pair[0] > pair[1] {
		pair[0], pair[1] = pair[1], pair[0]
	}
	if !compatibleConstraints[pair] {
		return nil, fmt.Errorf("%w: constraint types %q and %q", errUnmergeable, t1, t2)
	}

	types := []string{t1, t2}
	sort.Strings(types)

	params := map[string]interface{}{
		"constraint_type":  "compound",
		"constraint_types": types,
		"references":       affected,
	}
	return mergedOperation(collab.OpConstraintAdd, op1, op2, params), nil
}

// mergedOperation builds the surviving operation for a merge. The later
// input's user and timestamp are kept so downstream ordering stays monotonic,
// and both source IDs are recorded for auditing.
func mergedOperation(kind collab.OperationKind, op1, op2 *collab.Operation, params map[string]interface{}) *collab.Operation {
	later := op2
	if op1.Timestamp.After(op2.Timestamp) {
		later = op1
	}

	return &collab.Operation{
		ID:         uuid.New().String(),
		Kind:       kind,
		ObjectID:   op1.ObjectID,
		UserID:     later.UserID,
		Timestamp:  later.Timestamp,
		Parameters: params,
		Metadata: map[string]interface{}{
			collab.MetaMergedFrom: []string{op1.ID, op2.ID},
		},
	}
}

// eulerToQuat converts XYZ Euler angles in degrees to a unit quaternion.
// The quaternion represents Rz(z) * Ry(y) * Rx(x).
func eulerToQuat(euler collab.Point3D) quat.Number {
	roll := euler.X * math.Pi / 180
	pitch := euler.Y * math.Pi / 180
	yaw := euler.Z * math.Pi / 180

	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// quatToEuler converts a unit quaternion back to XYZ Euler angles in degrees.
func quatToEuler(q quat.Number) collab.Point3D {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	sinp := 2 * (w*y - z*x)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		// Gimbal lock: clamp to +-90 degrees.
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return collab.Point3D{
		X: roll * 180 / math.Pi,
		Y: pitch * 180 / math.Pi,
		Z: yaw * 180 / math.Pi,
	}
}
