package analytics

// Wind rose binning: 16 fixed sectors of 22.5° centered on the compass
// points, and four speed buckets.
const (
	sectorCount = 16
	sectorWidth = 22.5
)

var sectorLabels = [sectorCount]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Speed bucket thresholds in m/s.
const (
	calmBelow   = 3.0
	breezeBelow = 8.0
	strongBelow = 12.0
)

type SpeedBucket string

const (
	BucketCalm   SpeedBucket = "calm"
	BucketBreeze SpeedBucket = "breeze"
	BucketStrong SpeedBucket = "strong"
	BucketGale   SpeedBucket = "gale"
)

func speedBucket(speed float64) SpeedBucket {
	switch {
	case speed < calmBelow:
		return BucketCalm
	case speed < breezeBelow:
		return BucketBreeze
	case speed < strongBelow:
		return BucketStrong
	default:
		return BucketGale
	}
}

// WindRoseSector is one 22.5° slice of the rose.
type WindRoseSector struct {
	Label      string              `json:"label"`
	CenterDeg  float64             `json:"centerDeg"`
	Counts     map[SpeedBucket]int `json:"counts"`
	Total      int                 `json:"total"`
	Frequency  *float64            `json:"frequency"`
	MeanSpeed  *float64            `json:"meanSpeedMps"`
	speedAccum float64
}

// WindRoseSummary is the directional/speed histogram over a sample set.
type WindRoseSummary struct {
	Sectors            []WindRoseSector `json:"sectors"`
	DominantSector     *string          `json:"dominantSector"`
	Concentration      *float64         `json:"concentration"`
	CalmShare          *float64         `json:"calmShare"`
	TotalSamples       int              `json:"totalSamples"`
	DirectionalSamples int              `json:"directionalSamples"`
}

// roseSample is one (speed, direction) observation; either side may be nil.
type roseSample struct {
	speed     *float64
	direction *float64
}

// sectorIndex maps a from-direction to its sector, with sector 0 centered on
// north (348.75°–11.25°).
func sectorIndex(deg float64) int {
	shifted := deg + sectorWidth/2
	for shifted < 0 {
		shifted += 360
	}
	idx := int(shifted/sectorWidth) % sectorCount
	return idx
}

func buildWindRose(samples []roseSample) WindRoseSummary {
	summary := WindRoseSummary{Sectors: make([]WindRoseSector, sectorCount)}
	for i := range summary.Sectors {
		summary.Sectors[i] = WindRoseSector{
			Label:     sectorLabels[i],
			CenterDeg: float64(i) * sectorWidth,
			Counts:    map[SpeedBucket]int{},
		}
	}

	calm := 0
	speedTotal := 0
	for _, s := range samples {
		if s.speed != nil {
			speedTotal++
			if *s.speed < calmBelow {
				calm++
			}
		}
		if s.direction == nil {
			continue
		}
		summary.DirectionalSamples++
		sector := &summary.Sectors[sectorIndex(*s.direction)]
		sector.Total++
		if s.speed != nil {
			sector.Counts[speedBucket(*s.speed)]++
			sector.speedAccum += *s.speed
		}
	}
	summary.TotalSamples = len(samples)

	if summary.DirectionalSamples > 0 {
		dominant := 0
		for i := range summary.Sectors {
			sector := &summary.Sectors[i]
			sector.Frequency = ptr(float64(sector.Total) / float64(summary.DirectionalSamples))
			if speedSamples := bucketSum(sector.Counts); speedSamples > 0 {
				sector.MeanSpeed = ptr(sector.speedAccum / float64(speedSamples))
			}
			if sector.Total > summary.Sectors[dominant].Total {
				dominant = i
			}
		}
		summary.DominantSector = &summary.Sectors[dominant].Label
		summary.Concentration = ptr(float64(summary.Sectors[dominant].Total) / float64(summary.DirectionalSamples))
	}
	if speedTotal > 0 {
		summary.CalmShare = ptr(float64(calm) / float64(speedTotal))
	}
	return summary
}

func bucketSum(counts map[SpeedBucket]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
