package rules

// BaselineExpression flags every transaction above a fixed amount.
const BaselineExpression = "amount > 220.0"
