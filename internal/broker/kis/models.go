package kis

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// KIS returns every numeric field as a string; helpers below tolerate empty
// values.

// apiEnvelope is the common response header. rt_cd "0" means success.
type apiEnvelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func (e apiEnvelope) ok() error {
	if e.RtCd != "" && e.RtCd != "0" {
		return fmt.Errorf("kis api error %s: %s", e.MsgCd, e.Msg1)
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type hashkeyResponse struct {
	Hash string `json:"HASH"`
}

type balanceResponse struct {
	apiEnvelope
	Output1 []balanceHolding `json:"output1"`
	Output2 []balanceSummary `json:"output2"`
}

type balanceHolding struct {
	Pdno    string `json:"pdno"`
	HldgQty string `json:"hldg_qty"`
	Prpr    string `json:"prpr"`
	EvluAmt string `json:"evlu_amt"`
}

type balanceSummary struct {
	DncaTotAmt      string `json:"dnca_tot_amt"`
	NxdyExccAmt     string `json:"nxdy_excc_amt"`
	D2ExccAmt       string `json:"d2_excc_amt"`
	PrvsRcdlExccAmt string `json:"prvs_rcdl_excc_amt"`
	OrdPsblCash     string `json:"ord_psbl_cash"`
	TotEvluAmt      string `json:"tot_evlu_amt"`
}

type dailyOrdersResponse struct {
	apiEnvelope
	Output1 []dailyOrder `json:"output1"`
}

type dailyOrder struct {
	Pdno         string `json:"pdno"`
	SllBuyDvsnCd string `json:"sll_buy_dvsn_cd"` // 01 sell, 02 buy
	OrdQty       string `json:"ord_qty"`
	TotCcldQty   string `json:"tot_ccld_qty"`
	RmnQty       string `json:"rmn_qty"`
	OrdUnpr      string `json:"ord_unpr"`
	Odno         string `json:"odno"`
	OrdGnoBrno   string `json:"ord_gno_brno"`
}

type priceResponse struct {
	apiEnvelope
	Output struct {
		StckPrpr string `json:"stck_prpr"`
	} `json:"output"`
}

type orderResponse struct {
	apiEnvelope
	Output struct {
		Odno   string `json:"ODNO"`
		OrdTmd string `json:"ORD_TMD"`
	} `json:"output"`
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseInt(s string) int64 {
	return parseDecimal(s).IntPart()
}
