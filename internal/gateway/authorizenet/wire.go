package authorizenet

// The JSON API is a direct mapping of the XML schema and requires elements
// in schema order, so field order in these structs is significant.

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type createTransactionEnvelope struct {
	Request createTransactionRequest `json:"createTransactionRequest"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type transactionRequest struct {
	TransactionType     string               `json:"transactionType"`
	Amount              string               `json:"amount,omitempty"`
	Payment             *payment             `json:"payment,omitempty"`
	RefTransID          string               `json:"refTransId,omitempty"`
	Order               *order               `json:"order,omitempty"`
	LineItems           *lineItems           `json:"lineItems,omitempty"`
	Customer            *customerData        `json:"customer,omitempty"`
	BillTo              *nameAndAddress      `json:"billTo,omitempty"`
	TransactionSettings *transactionSettings `json:"transactionSettings,omitempty"`
}

type payment struct {
	CreditCard creditCard `json:"creditCard"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode,omitempty"`
}

type order struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

type lineItems struct {
	LineItem []lineItem `json:"lineItem"`
}

type lineItem struct {
	ItemID      string `json:"itemId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
}

type customerData struct {
	Type  string `json:"type,omitempty"`
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

type nameAndAddress struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Company   string `json:"company,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
}

type transactionSettings struct {
	Setting []setting `json:"setting"`
}

type setting struct {
	SettingName  string `json:"settingName"`
	SettingValue string `json:"settingValue"`
}

type messages struct {
	ResultCode string    `json:"resultCode"`
	Message    []message `json:"message"`
}

type message struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type createTransactionResponse struct {
	TransactionResponse *transactionResponse `json:"transactionResponse"`
	RefID               string               `json:"refId"`
	Messages            messages             `json:"messages"`
}

type transactionResponse struct {
	ResponseCode string               `json:"responseCode"`
	TransID      string               `json:"transId"`
	Messages     []transactionMessage `json:"messages"`
	Errors       []transactionError   `json:"errors"`
}

type transactionMessage struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type transactionError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

type arbCreateSubscriptionEnvelope struct {
	Request arbCreateSubscriptionRequest `json:"ARBCreateSubscriptionRequest"`
}

type arbCreateSubscriptionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	Subscription           arbSubscription        `json:"subscription"`
}

type arbSubscription struct {
	Name            string          `json:"name"`
	PaymentSchedule paymentSchedule `json:"paymentSchedule"`
	Amount          string          `json:"amount"`
	TrialAmount     string          `json:"trialAmount,omitempty"`
	Payment         payment         `json:"payment"`
	BillTo          nameAndAddress  `json:"billTo"`
}

type paymentSchedule struct {
	Interval         scheduleInterval `json:"interval"`
	StartDate        string           `json:"startDate"`
	TotalOccurrences int              `json:"totalOccurrences"`
	TrialOccurrences int              `json:"trialOccurrences,omitempty"`
}

type scheduleInterval struct {
	Length int    `json:"length"`
	Unit   string `json:"unit"`
}

type arbCreateSubscriptionResponse struct {
	SubscriptionID string   `json:"subscriptionId"`
	RefID          string   `json:"refId"`
	Messages       messages `json:"messages"`
}
