// Package features derives fixed-length normalized feature vectors from
// endpoint sketch snapshots for the clustering path.
package features

import (
	"math"

	"segflow/internal/sketch"
	"segflow/pkg/models"
)

// Vector dimension layout. Behavior-only dimensions always carry values;
// identity dimensions are zero when no identity context was supplied.
const (
	DimPeerDiversity = iota
	DimServiceDiversity
	DimPortDiversity
	DimDirectionRatio
	DimVolume
	DimActiveHourRatio
	DimBusinessHourRatio
	DimHasIdentity
	DimGroupCount
	DimProfileBucket

	// Dimensions is the fixed feature-vector length.
	Dimensions
)

// Config controls feature normalization.
type Config struct {
	// Saturation constants divide the raw cardinality estimates before
	// clamping to [0,1]: an endpoint talking to PeerSaturation or more
	// distinct peers scores full peer diversity.
	PeerSaturation    float64
	ServiceSaturation float64
	PortSaturation    float64
}

// DefaultConfig returns saturation constants suited to mid-size segments.
func DefaultConfig() Config {
	return Config{
		PeerSaturation:    500,
		ServiceSaturation: 100,
		PortSaturation:    100,
	}
}

// Vector is one endpoint's normalized feature vector, attributable to the
// sketch snapshot it was derived from.
type Vector struct {
	EndpointID  string
	SyncVersion uint64
	Values      []float64
}

// businessHoursMask covers hours 08:00 through 17:59 UTC.
const businessHoursMask uint32 = 0x0003FF00

// ExtractAll converts snapshots into feature vectors. Volume is
// log1p-scaled then min-max normalized against the current population, so
// the dimension is relative to this batch rather than absolute. Identity
// contexts may be nil per endpoint or absent entirely.
func ExtractAll(snaps []*sketch.Snapshot, identities map[string]*models.IdentityContext, cfg Config) []Vector {
	vectors := make([]Vector, 0, len(snaps))
	volumes := make([]float64, 0, len(snaps))

	minVol := math.Inf(1)
	maxVol := math.Inf(-1)
	for _, snap := range snaps {
		vol := math.Log1p(float64(snap.BytesIn + snap.BytesOut))
		volumes = append(volumes, vol)
		if vol < minVol {
			minVol = vol
		}
		if vol > maxVol {
			maxVol = vol
		}
	}
	volRange := maxVol - minVol

	for i, snap := range snaps {
		var identity *models.IdentityContext
		if identities != nil {
			identity = identities[snap.EndpointID]
		}

		values := make([]float64, Dimensions)
		values[DimPeerDiversity] = clamp01(snap.UniquePeers / cfg.PeerSaturation)
		values[DimServiceDiversity] = clamp01(snap.UniqueServices / cfg.ServiceSaturation)
		values[DimPortDiversity] = clamp01(snap.UniquePorts / cfg.PortSaturation)
		values[DimDirectionRatio] = directionRatio(snap.BytesIn, snap.BytesOut)
		if volRange > 0 {
			values[DimVolume] = (volumes[i] - minVol) / volRange
		}
		values[DimActiveHourRatio] = float64(snap.ActiveHourCount) / 24.0
		values[DimBusinessHourRatio] = businessHourRatio(snap.ActiveHours)

		if identity.HasAttributes() {
			values[DimHasIdentity] = 1.0
			groups := float64(len(identity.Groups))
			if groups > 8 {
				groups = 8
			}
			values[DimGroupCount] = groups / 8.0
			if identity.Profile != "" {
				values[DimProfileBucket] = profileBucket(identity.Profile)
			}
		}

		vectors = append(vectors, Vector{
			EndpointID:  snap.EndpointID,
			SyncVersion: snap.SyncVersion,
			Values:      values,
		})
	}
	return vectors
}

// directionRatio is bytes_in over total bytes, defined as 0.5 for an
// endpoint with no observed traffic.
func directionRatio(bytesIn, bytesOut uint64) float64 {
	total := bytesIn + bytesOut
	if total == 0 {
		return 0.5
	}
	return float64(bytesIn) / float64(total)
}

func businessHourRatio(activeHours uint32) float64 {
	active := 0
	business := 0
	for h := 0; h < 24; h++ {
		if activeHours&(1<<uint(h)) == 0 {
			continue
		}
		active++
		if businessHoursMask&(1<<uint(h)) != 0 {
			business++
		}
	}
	if active == 0 {
		return 0
	}
	return float64(business) / float64(active)
}

// profileBucket embeds a categorical profile as a stable fraction so the
// vector stays fixed-length regardless of the profile vocabulary.
func profileBucket(profile string) float64 {
	const buckets = 16
	b := sketch.HashString(profile) % buckets
	return float64(b+1) / float64(buckets)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
