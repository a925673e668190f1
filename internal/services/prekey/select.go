package prekey

import (
	"fmt"
	"time"

	"chainmail/internal/domain"
)

const msPerDay = int64(24 * time.Hour / time.Millisecond)

// DayOf returns the pre-key id for the UTC day containing t. Days past the
// largest representable id are refused.
func DayOf(t time.Time) (domain.PreKeyID, error) {
	day := t.UnixMilli() / msPerDay
	if day < 0 || day > domain.MaxPreKeyID {
		return 0, fmt.Errorf("day %d outside pre-key id range", day)
	}
	return domain.PreKeyID(day), nil
}

// GetAvailablePreKey picks the key a sender should seal to on day today.
//
// Before the last-resort day it scans downward from today through the last
// interval days and returns the first id present. Otherwise, or when the
// window is empty, it returns the last-resort key.
func GetAvailablePreKey(pkg domain.PreKeyPackage, today domain.PreKeyID) (domain.PreKeyID, domain.PublicKey, error) {
	const op = "select pre-key"

	if len(pkg.PreKeys) == 0 {
		return 0, domain.PublicKey{}, domain.E(domain.KindKeyExhaustion, op, domain.ErrNoPreKeysPublished)
	}

	if today < pkg.LastResortID {
		floor := int(today) - int(pkg.Interval)
		for id := int(today); id > floor && id >= 0; id-- {
			if pub, ok := pkg.PreKeys[domain.PreKeyID(id)]; ok {
				return domain.PreKeyID(id), pub, nil
			}
		}
	}

	pub, ok := pkg.PreKeys[pkg.LastResortID]
	if !ok {
		return 0, domain.PublicKey{}, domain.E(domain.KindKeyExhaustion, op,
			fmt.Errorf("%w: last-resort id %d absent", domain.ErrNoPreKeysPublished, pkg.LastResortID))
	}
	return pkg.LastResortID, pub, nil
}
