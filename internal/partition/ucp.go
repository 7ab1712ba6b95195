// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package partition

// ucpLookahead assigns each app one way, then repeatedly grants one
// more way to whichever app has the largest marginal utility
// `(m_i - m_j)/(j-i)` until no positive marginal utility remains,
// distributing any leftover ways fairly across all apps (spec §4.J "UCP
// lookahead"). When nrWays is smaller than len(apps), only the first
// nrWays apps get one way each and the rest get none.
func ucpLookahead(apps []*App, nrWays int) []int {
	n := len(apps)
	ways := make([]int, n)
	if n == 0 {
		return ways
	}
	if nrWays <= 0 {
		return ways
	}
	if nrWays < n {
		for i := 0; i < nrWays; i++ {
			ways[i] = 1
		}
		return ways
	}

	for i := range ways {
		ways[i] = 1
	}
	used := n

	for used < nrWays {
		bestIdx := -1
		bestUtil := 0.0
		for i, app := range apps {
			cur := ways[i]
			if cur >= app.maxWays() {
				continue
			}
			util := marginalUtility(app, cur, cur+1)
			if util > bestUtil {
				bestUtil = util
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		ways[bestIdx]++
		used++
	}

	for i := 0; used < nrWays; i = (i + 1) % n {
		ways[i]++
		used++
	}
	return ways
}

// marginalUtility computes the per-way benefit of moving an app from i
// ways to j ways, using the miss curve (falling back to the slowdown
// curve when no miss curve is available).
func marginalUtility(app *App, i, j int) float64 {
	curve := app.MissCurve
	if curve == nil {
		curve = app.SlowdownCurve
	}
	if i < 0 || j >= len(curve) || j == i {
		return 0
	}
	return (curve[i] - curve[j]) / float64(j-i)
}

func slowdownAt(a *App, w int) float64 {
	c := a.SlowdownCurve
	if len(c) == 0 {
		return 1
	}
	if w < 0 {
		w = 0
	}
	if w >= len(c) {
		w = len(c) - 1
	}
	return c[w]
}
