package fetch

import "time"

// initialBackoff は前倒し再実行の初回遅延（5分）。
const initialBackoff = 5 * time.Minute

// CalculateBackoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回5分、2倍ずつ増加し、通常の実行間隔maxDelayを上限とする。
func CalculateBackoff(consecutiveFailures int, maxDelay time.Duration) time.Duration {
	delay := initialBackoff
	if delay > maxDelay {
		return maxDelay
	}
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxDelay {
			return maxDelay
		}
	}
	return delay
}
