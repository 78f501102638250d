package bybit

import (
	"encoding/json"
	"testing"

	bybitmodels "github.com/bybit-exchange/bybit.go.api/models"

	"gridflow/internal/models"
)

func TestBatchOrderIDsFromTypedResponse(t *testing.T) {
	payload := `{
		"retCode": 0,
		"retMsg": "OK",
		"result": {
			"list": [
				{"category": "linear", "symbol": "BTCUSDT", "orderId": "ord-1", "orderLinkId": "lnk-1"},
				{"category": "linear", "symbol": "BTCUSDT", "orderId": "ord-2", "orderLinkId": "lnk-2"}
			]
		},
		"retExtInfo": {"list": [{"code": 0, "msg": "OK"}, {"code": 0, "msg": "OK"}]},
		"time": 1700000000000
	}`
	var res bybitmodels.BatchOrderServerResponse
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := checkBatchResponse(&res, nil, "batch place"); err != nil {
		t.Fatalf("checkBatchResponse: %v", err)
	}
	ids := batchOrderIDs(&res)
	if len(ids) != 2 || ids[0] != "ord-1" || ids[1] != "ord-2" {
		t.Fatalf("ids = %v, want [ord-1 ord-2]", ids)
	}
}

func TestCheckBatchResponseRetCode(t *testing.T) {
	var res bybitmodels.BatchOrderServerResponse
	res.RetCode = 10001
	res.RetMsg = "params error"
	if err := checkBatchResponse(&res, nil, "batch amend"); err == nil {
		t.Fatal("expected error for non-zero retCode")
	}
	if ids := batchOrderIDs(nil); ids != nil {
		t.Fatalf("ids for nil response = %v, want nil", ids)
	}
}

func TestChunkOrdersBybitBatchCap(t *testing.T) {
	orders := make([]models.BatchOrder, 23)
	chunks := chunkOrders(orders, 10)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[2]) != 3 {
		t.Fatalf("chunk sizes = %d/%d, want 10/3", len(chunks[0]), len(chunks[2]))
	}
}
