package control

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformToVehicleFrame(t *testing.T) {
	t.Parallel()

	t.Run("vehicle at origin with zero heading is identity", func(t *testing.T) {
		t.Parallel()
		wx := []float64{1, 2, 3}
		wy := []float64{-1, 0, 1}

		lx, ly, err := TransformToVehicleFrame(Pose{}, wx, wy)
		require.NoError(t, err)
		for i := range wx {
			assert.InDelta(t, wx[i], lx[i], 1e-12)
			assert.InDelta(t, wy[i], ly[i], 1e-12)
		}
	})

	t.Run("point ahead of a rotated vehicle lands on local +x", func(t *testing.T) {
		t.Parallel()
		pose := Pose{X: 2, Y: 3, Heading: math.Pi / 2}

		// One unit along the vehicle's heading (world +y).
		lx, ly, err := TransformToVehicleFrame(pose, []float64{2, 2}, []float64{4, 5})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, lx[0], 1e-12)
		assert.InDelta(t, 0.0, ly[0], 1e-12)
		assert.InDelta(t, 2.0, lx[1], 1e-12)
		assert.InDelta(t, 0.0, ly[1], 1e-12)
	})

	t.Run("round trip reproduces waypoints", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(42))

		for trial := 0; trial < 50; trial++ {
			pose := Pose{
				X:       rng.Float64()*200 - 100,
				Y:       rng.Float64()*200 - 100,
				Heading: rng.Float64()*4*math.Pi - 2*math.Pi,
			}
			n := 2 + rng.Intn(8)
			wx := make([]float64, n)
			wy := make([]float64, n)
			for i := range wx {
				wx[i] = rng.Float64()*100 - 50
				wy[i] = rng.Float64()*100 - 50
			}

			lx, ly, err := TransformToVehicleFrame(pose, wx, wy)
			require.NoError(t, err)
			rx, ry, err := TransformToWorldFrame(pose, lx, ly)
			require.NoError(t, err)

			for i := range wx {
				assert.InDelta(t, wx[i], rx[i], 1e-9)
				assert.InDelta(t, wy[i], ry[i], 1e-9)
			}
		}
	})

	t.Run("fewer than two waypoints fails", func(t *testing.T) {
		t.Parallel()
		_, _, err := TransformToVehicleFrame(Pose{}, []float64{1}, []float64{1})
		assert.ErrorIs(t, err, ErrInsufficientWaypoints)
	})

	t.Run("mismatched arrays fail", func(t *testing.T) {
		t.Parallel()
		_, _, err := TransformToVehicleFrame(Pose{}, []float64{1, 2, 3}, []float64{1, 2})
		assert.ErrorIs(t, err, ErrMalformedTelemetry)
	})
}
