package rediskey

import "fmt"

const (
	AffiliateLockPrefix    = "affiliate:lock"
	AffiliateBalancePrefix = "affiliate:balance"
	AffiliateVersionPrefix = "affiliate:balance:version"
	PayoutReservations     = "payout:reservations"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildAffiliateLockKey returns "affiliate:lock:{affiliateID}"
func BuildAffiliateLockKey(affiliateID string) string {
	return NamespaceKey(AffiliateLockPrefix, affiliateID)
}

// BuildAffiliateBalanceKey returns "affiliate:balance:{affiliateID}"
func BuildAffiliateBalanceKey(affiliateID string) string {
	return NamespaceKey(AffiliateBalancePrefix, affiliateID)
}

// BuildAffiliateBalanceVersionKey returns "affiliate:balance:version:{affiliateID}"
func BuildAffiliateBalanceVersionKey(affiliateID string) string {
	return NamespaceKey(AffiliateVersionPrefix, affiliateID)
}

// BuildReservationKey returns "payout:reservations:{currency}"
func BuildReservationKey(currency string) string {
	return NamespaceKey(PayoutReservations, currency)
}
